package reflector

import (
	"net"
)

// Server is the receiving end of a reflector pair. It owns one multicast
// and one unicast socket per address family, started and stopped
// together. Payloads received over unicast are re-emitted unchanged onto
// the local multicast group, optionally also to the bound interface's
// derived broadcast address, and the sender is acknowledged over the
// same unicast socket.
type Server struct {
	core
	opts options

	mcast4, mcast6 *MulticastSocket
	ucast4, ucast6 *UnicastSocket

	bcastAddr net.IP
}

// NewServer creates a reflector server. No sockets are opened until
// Start.
func NewServer(opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{opts: o}
	s.core.log = o.logger.WithField("role", "reflector-server")
	return s
}

// socketOptions assembles the per-socket options shared by all four
// sockets of one reflector role.
func (o *options) socketOptions(bind net.IP) []SocketOption {
	sopts := []SocketOption{WithSocketLogger(o.logger)}
	if o.ifaceName != "" {
		sopts = append(sopts, WithInterface(o.ifaceName))
	}
	if bind != nil {
		sopts = append(sopts, WithBindAddress(bind))
	}
	return sopts
}

// Start creates and starts all four sockets concurrently and returns
// once every socket has reported in. A socket that fails to bind is
// logged and left out; Start fails only when no socket at all could be
// bound, which is a total capability loss.
func (s *Server) Start() error {
	if !s.transition(reflectorIdle, reflectorStarting) {
		return errNotIdle
	}

	o := &s.opts
	s.mcast4 = NewMulticastSocket("mcast-v4", FamilyIPv4, o.preset.GroupIPv4, o.preset.Port, o.socketOptions(o.bindIPv4)...)
	s.mcast6 = NewMulticastSocket("mcast-v6", FamilyIPv6, o.preset.GroupIPv6, o.preset.Port, o.socketOptions(o.bindIPv6)...)
	s.ucast4 = NewUnicastSocket("ucast-v4", FamilyIPv4, append(o.socketOptions(o.bindIPv4), WithPort(o.unicastPort))...)
	s.ucast6 = NewUnicastSocket("ucast-v6", FamilyIPv6, append(o.socketOptions(o.bindIPv6), WithPort(o.unicastPort))...)

	s.ucast4.AddListener(&Events{
		Message: func(payload []byte, from *net.UDPAddr) { s.relay(FamilyIPv4, payload, from) },
		Error:   s.socketError,
	})
	s.ucast6.AddListener(&Events{
		Message: func(payload []byte, from *net.UDPAddr) { s.relay(FamilyIPv6, payload, from) },
		Error:   s.socketError,
	})
	s.mcast4.AddListener(&Events{Error: s.socketError})
	s.mcast6.AddListener(&Events{Error: s.socketError})

	s.sockets = []*managedSocket{
		{name: "mcast-v4", start: s.mcast4.Start, stop: s.mcast4.Stop, closed: make(chan struct{})},
		{name: "mcast-v6", start: s.mcast6.Start, stop: s.mcast6.Stop, closed: make(chan struct{})},
		{name: "ucast-v4", start: s.ucast4.Start, stop: s.ucast4.Stop, closed: make(chan struct{})},
		{name: "ucast-v6", start: s.ucast6.Start, stop: s.ucast6.Stop, closed: make(chan struct{})},
	}
	for i, sock := range []interface{ AddListener(*Events) }{s.mcast4, s.mcast6, s.ucast4, s.ucast6} {
		sock.AddListener(s.sockets[i].closedEvents())
	}

	if err := s.startAll(); err != nil {
		s.setState(reflectorStopped)
		return err
	}

	if o.broadcast {
		s.bcastAddr = s.deriveBroadcastAddress()
	}

	s.setState(reflectorRunning)
	s.log.Info("running")
	return nil
}

// deriveBroadcastAddress computes the IPv4 directed-broadcast address of
// the bound interface, for the optional broadcast relay path. Returns
// nil, disabling the path, when no concrete local address is known.
func (s *Server) deriveBroadcastAddress() net.IP {
	ip := s.opts.bindIPv4
	if ip == nil {
		var err error
		ip, err = resolveInterfaceAddress(FamilyIPv4, s.opts.ifaceName)
		if err != nil {
			s.log.WithError(err).Warn("broadcast relay disabled")
			return nil
		}
	}
	mask := interfaceNetmask(ip)
	if mask == nil {
		s.log.WithField("addr", ip.String()).Warn("broadcast relay disabled: no netmask")
		return nil
	}
	bcast := broadcastAddress(ip, mask)
	if bcast != nil {
		s.log.WithField("addr", bcast.String()).Info("broadcast relay enabled")
	}
	return bcast
}

// relay forwards one unicast-received payload onto the local multicast
// group and acknowledges the sender.
func (s *Server) relay(family Family, payload []byte, from *net.UDPAddr) {
	lg := s.log.WithField("from", from.String()).WithField("bytes", len(payload))
	if !s.opts.filter.Match(payload) {
		lg.Debug("dropped by record-name filter")
		return
	}
	lg.Debug("relay to multicast: " + messageSummary(payload))

	mcast, ucast := s.mcast4, s.ucast4
	if family == FamilyIPv6 {
		mcast, ucast = s.mcast6, s.ucast6
	}

	mcast.SendToGroup(payload)
	if family == FamilyIPv4 && s.bcastAddr != nil {
		mcast.Send(payload, s.bcastAddr, s.opts.preset.Port)
	}
	ucast.Send([]byte(ackMessage), from.IP, from.Port)
}

// socketError logs one socket's failure without disturbing its siblings.
func (s *Server) socketError(err error) {
	s.log.WithError(err).Error("socket error")
	if s.opts.errorHandler != nil {
		s.opts.errorHandler(err)
	}
}

// UpgradeAddressForDocker rewrites the A/AAAA rdata of a raw DNS message
// with this host's resolved addresses. It is meant for payloads stamped
// with a non-routable container-internal address before they are handed
// to the relay; the embedding application invokes it at its discretion.
// Malformed messages are returned unchanged.
func (s *Server) UpgradeAddressForDocker(msg []byte) []byte {
	hostIPv4, _ := resolveInterfaceAddress(FamilyIPv4, s.opts.ifaceName)
	hostIPv6, _ := resolveInterfaceAddress(FamilyIPv6, s.opts.ifaceName)
	if hostIPv4 == nil && hostIPv6 == nil {
		return msg
	}
	return PatchAddresses(msg, hostIPv4, hostIPv6)
}

// Stop stops all four sockets concurrently, waits until each has
// closed, and drops every listener. A second Stop is a no-op.
func (s *Server) Stop() {
	if !s.transition(reflectorRunning, reflectorStopping) {
		return
	}
	s.stopAll()
	s.mcast4.RemoveListeners()
	s.mcast6.RemoveListeners()
	s.ucast4.RemoveListeners()
	s.ucast6.RemoveListeners()
	s.setState(reflectorStopped)
	s.log.Info("stopped")
}
