package reflector

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"

	"github.com/apex/log"
)

// Family selects the address family a socket is bound to. Every socket
// owns exactly one OS UDP socket of a single family; dual-stack operation
// is achieved by pairing a v4 and a v6 socket.
type Family uint8

const (
	FamilyIPv4 Family = 0x01
	FamilyIPv6 Family = 0x02
)

func (f Family) String() string {
	if f == FamilyIPv4 {
		return "v4"
	}
	return "v6"
}

// network returns the net package network string for the family.
func (f Family) network() string {
	if f == FamilyIPv4 {
		return "udp4"
	}
	return "udp6"
}

// matches reports whether ip belongs to the family.
func (f Family) matches(ip net.IP) bool {
	if ip == nil {
		return false
	}
	isV4 := ip.To4() != nil
	return (f == FamilyIPv4) == isV4
}

// Events is the callback contract a socket exposes to its listeners.
// All fields are optional; nil callbacks are skipped. For one socket,
// Bound always precedes Ready, which precedes any Message delivery.
// Callbacks for one socket are invoked sequentially, never concurrently.
type Events struct {
	Bound   func(addr *net.UDPAddr)
	Ready   func(addr *net.UDPAddr)
	Message func(payload []byte, from *net.UDPAddr)
	Error   func(err error)
	Closed  func()
}

// SocketOption configures optional socket identity fields.
type SocketOption func(*datagramSocket)

// WithInterface restricts the socket to the named network interface.
// The bind address is resolved lazily from the interface when no
// explicit address was configured.
func WithInterface(name string) SocketOption {
	return func(s *datagramSocket) { s.ifaceName = name }
}

// WithBindAddress sets an explicit local bind address.
func WithBindAddress(ip net.IP) SocketOption {
	return func(s *datagramSocket) { s.address = ip }
}

// WithReuseAddress enables SO_REUSEADDR before bind. Multicast sockets
// enable it unconditionally so the relay can share the well-known port
// with a local resolver.
func WithReuseAddress() SocketOption {
	return func(s *datagramSocket) { s.reuseAddr = true }
}

// WithSocketLogger replaces the logger the socket derives its entries
// from.
func WithSocketLogger(logger log.Interface) SocketOption {
	return func(s *datagramSocket) {
		s.log = logger.WithField("socket", s.name).WithField("family", s.family.String())
	}
}

// socketState tracks the strict created → bound → ready → stopped
// lifecycle of a datagram socket.
type socketState int

const (
	stateCreated socketState = iota
	stateBound
	stateReady
	stateStopped
)

// inboundBufferSize is large enough for any UDP datagram; mDNS payloads
// stay well below it.
const inboundBufferSize = 65536

// datagramSocket wraps one OS UDP socket bound to a single address
// family. It resolves the local bind address lazily when only an
// interface name was configured, and surfaces its lifecycle through the
// Events contract. OS-level failures are delivered as Error events,
// never as panics from the receive path.
type datagramSocket struct {
	name      string
	family    Family
	reuseAddr bool
	broadcast bool
	ifaceName string
	address   net.IP // explicit bind address, resolved lazily when nil
	port      int

	log log.Interface

	mu        sync.Mutex
	state     socketState
	conn      *net.UDPConn
	listeners []*Events
}

func newDatagramSocket(name string, family Family, logger log.Interface) datagramSocket {
	if logger == nil {
		logger = log.Log
	}
	return datagramSocket{
		name:   name,
		family: family,
		log:    logger.WithField("socket", name).WithField("family", family.String()),
	}
}

// isClosedErr reports whether err stems from reading or writing a closed
// socket.
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// AddListener registers an additional set of event callbacks. Listeners
// are invoked in registration order.
func (s *datagramSocket) AddListener(ev *Events) {
	if ev == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, ev)
	s.mu.Unlock()
}

// RemoveListeners drops every registered listener.
func (s *datagramSocket) RemoveListeners() {
	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
}

func (s *datagramSocket) snapshotListeners() []*Events {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Events, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func (s *datagramSocket) emitBound(addr *net.UDPAddr) {
	for _, ev := range s.snapshotListeners() {
		if ev.Bound != nil {
			ev.Bound(addr)
		}
	}
}

func (s *datagramSocket) emitReady(addr *net.UDPAddr) {
	for _, ev := range s.snapshotListeners() {
		if ev.Ready != nil {
			ev.Ready(addr)
		}
	}
}

func (s *datagramSocket) emitMessage(payload []byte, from *net.UDPAddr) {
	for _, ev := range s.snapshotListeners() {
		if ev.Message != nil {
			ev.Message(payload, from)
		}
	}
}

func (s *datagramSocket) emitError(err error) {
	for _, ev := range s.snapshotListeners() {
		if ev.Error != nil {
			ev.Error(err)
		}
	}
}

func (s *datagramSocket) emitClosed() {
	for _, ev := range s.snapshotListeners() {
		if ev.Closed != nil {
			ev.Closed()
		}
	}
}

// bindAddress resolves the local address to bind to. An explicitly
// configured address wins; otherwise a configured interface name is
// resolved to its first usable address of the socket's family; otherwise
// nil is returned to bind to all addresses.
func (s *datagramSocket) bindAddress() (net.IP, error) {
	if s.address != nil {
		return s.address, nil
	}
	if s.ifaceName != "" {
		ip, err := resolveInterfaceAddress(s.family, s.ifaceName)
		if err != nil {
			return nil, err
		}
		s.address = ip
		return ip, nil
	}
	return nil, nil
}

// bind opens the OS socket on (port, bindIP) and transitions to bound.
// A nil bindIP binds to all addresses, a zero port to an ephemeral one.
func (s *datagramSocket) bind(bindIP net.IP) error {
	laddr := &net.UDPAddr{IP: bindIP, Port: s.port}
	conn, err := listenUDP(s.family.network(), laddr, s.reuseAddr, s.broadcast)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		conn.Close()
		return net.ErrClosed
	}
	s.conn = conn
	s.state = stateBound
	s.mu.Unlock()

	local := conn.LocalAddr().(*net.UDPAddr)
	s.log.WithField("addr", local.String()).Debug("bound")
	s.emitBound(local)
	return nil
}

// start drives the full lifecycle: resolve, bind, run the subclass
// listening hook (socket options, group joins), emit ready and begin
// receiving. It returns once the socket is ready.
func (s *datagramSocket) start(listening func(conn *net.UDPConn) error) error {
	bindIP, err := s.bindAddress()
	if err != nil {
		return err
	}
	if err := s.bind(bindIP); err != nil {
		return err
	}

	if listening != nil {
		if err := listening(s.conn); err != nil {
			s.stop()
			return err
		}
	}

	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return net.ErrClosed
	}
	s.state = stateReady
	conn := s.conn
	s.mu.Unlock()

	local := conn.LocalAddr().(*net.UDPAddr)
	s.log.WithField("addr", local.String()).Info("ready")
	s.emitReady(local)

	go s.readLoop(conn)
	return nil
}

// readLoop receives datagrams until the socket is closed. Transient read
// errors become Error events; closing the socket ends the loop with a
// single Closed event.
func (s *datagramSocket) readLoop(conn *net.UDPConn) {
	buf := make([]byte, inboundBufferSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if s.closedState() || isClosedErr(err) {
				s.emitClosed()
				return
			}
			s.emitError(err)
			continue
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		s.emitMessage(payload, from)
	}
}

func (s *datagramSocket) closedState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateStopped
}

// stop closes the OS socket. A second stop is a no-op.
func (s *datagramSocket) stop() {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = stateStopped
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
		// The read loop emits Closed when it observes the closed
		// socket; a socket stopped before ready has no loop.
		if prev == stateBound || prev == stateCreated {
			s.emitClosed()
		}
	} else {
		s.emitClosed()
	}
}

// send is a fire-and-forget datagram send. It is a no-op after stop;
// send failures surface only as Error events.
func (s *datagramSocket) send(payload []byte, ip net.IP, port int) {
	s.mu.Lock()
	conn := s.conn
	stopped := s.state == stateStopped
	s.mu.Unlock()
	if stopped || conn == nil {
		return
	}
	if _, err := conn.WriteToUDP(payload, &net.UDPAddr{IP: ip, Port: port}); err != nil {
		if !isClosedErr(err) {
			s.emitError(err)
		}
	}
}

// LocalAddr returns the bound local address, or nil before bind.
func (s *datagramSocket) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// listenUDP opens a UDP socket with the requested socket options applied
// before bind.
func listenUDP(network string, laddr *net.UDPAddr, reuseAddr, broadcast bool) (*net.UDPConn, error) {
	if !reuseAddr && !broadcast {
		return net.ListenUDP(network, laddr)
	}
	lc := net.ListenConfig{
		Control: func(_, _ string, raw syscall.RawConn) error {
			var opErr error
			if err := raw.Control(func(fd uintptr) {
				opErr = setSocketOptions(fd, reuseAddr, broadcast)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
	pc, err := lc.ListenPacket(context.Background(), network, laddr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
