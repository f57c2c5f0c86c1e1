package reflector

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// multicastTTL is the TTL/hop limit for relayed multicast traffic, per
// RFC 6762 section 11.
const multicastTTL = 255

// membership records one successfully joined multicast group membership.
// The label is the membership address, scope-suffixed for link-local
// IPv6 ("fe80::1%eth0").
type membership struct {
	iface net.Interface
	label string
}

// MulticastSocket joins a multicast group on every eligible network
// interface and relays traffic to and from the group. Group joins are
// attempted independently per interface; a failing interface is logged
// and skipped, never fatal to the socket as a whole.
type MulticastSocket struct {
	datagramSocket

	group net.IP

	pc4         *ipv4.PacketConn
	pc6         *ipv6.PacketConn
	memberships []membership

	// Function fields so unit tests can substitute fakes.
	listInterfaces func() []net.Interface
	memberAddr     func(*net.Interface) (net.IP, bool)
	joinFunc       func(*net.Interface) error
	leaveFunc      func(*net.Interface) error
}

// NewMulticastSocket creates a multicast socket for one address family.
// group and port name the multicast group to join and the port to bind;
// the socket is not opened until Start.
func NewMulticastSocket(name string, family Family, group net.IP, port int, opts ...SocketOption) *MulticastSocket {
	s := &MulticastSocket{
		datagramSocket: newDatagramSocket(name, family, nil),
		group:          group,
	}
	s.port = port
	s.reuseAddr = true
	s.broadcast = true
	s.listInterfaces = listMulticastInterfaces
	s.memberAddr = func(iface *net.Interface) (net.IP, bool) {
		return selectMembershipAddress(iface, family)
	}
	s.joinFunc = s.joinGroup
	s.leaveFunc = s.leaveGroup
	for _, o := range opts {
		o(&s.datagramSocket)
	}
	return s
}

// Start resolves the bind address for the socket's family, binds
// (port, bindAddress), joins the group on all candidate interfaces and
// begins receiving. It returns once the socket is ready.
func (s *MulticastSocket) Start() error {
	return s.start(s.listening)
}

// listening configures multicast options and joins the group. Runs
// between the bound and ready events.
func (s *MulticastSocket) listening(conn *net.UDPConn) error {
	if s.family == FamilyIPv4 {
		s.pc4 = ipv4.NewPacketConn(conn)
		if err := s.pc4.SetMulticastTTL(multicastTTL); err != nil {
			s.log.WithError(err).Warn("set multicast TTL")
		}
		if err := s.pc4.SetMulticastLoopback(true); err != nil {
			s.log.WithError(err).Warn("set multicast loopback")
		}
	} else {
		s.pc6 = ipv6.NewPacketConn(conn)
		if err := s.pc6.SetMulticastHopLimit(multicastTTL); err != nil {
			s.log.WithError(err).Warn("set multicast hop limit")
		}
		if err := s.pc6.SetMulticastLoopback(true); err != nil {
			s.log.WithError(err).Warn("set multicast loopback")
		}
	}

	for _, iface := range s.candidateInterfaces() {
		s.join(iface)
	}

	s.setOutgoingInterface()
	return nil
}

// candidateInterfaces returns the interfaces considered for group joins:
// the explicitly named one when configured, otherwise every up,
// multicast-capable interface on the host.
func (s *MulticastSocket) candidateInterfaces() []net.Interface {
	if s.ifaceName != "" {
		iface, err := net.InterfaceByName(s.ifaceName)
		if err != nil {
			s.log.WithError(err).WithField("iface", s.ifaceName).Warn("interface lookup failed")
			return nil
		}
		return []net.Interface{*iface}
	}
	return s.listInterfaces()
}

// join selects a membership address for one interface and attempts the
// group join. Failures are logged and skipped.
func (s *MulticastSocket) join(iface net.Interface) {
	ip, ok := s.memberAddr(&iface)
	if !ok {
		s.log.WithField("iface", iface.Name).Debug("no usable membership address")
		return
	}

	label := ip.String()
	if ip.IsLinkLocalUnicast() {
		label += "%" + iface.Name
	}

	if err := s.joinFunc(&iface); err != nil {
		jerr := &MembershipJoinError{Interface: iface.Name, Group: s.group.String(), Err: err}
		s.log.WithError(jerr).Warn("multicast join failed")
		return
	}

	s.mu.Lock()
	s.memberships = append(s.memberships, membership{iface: iface, label: label})
	s.mu.Unlock()
	s.log.WithField("iface", iface.Name).WithField("membership", label).Debug("joined group")
}

func (s *MulticastSocket) joinGroup(iface *net.Interface) error {
	if s.pc4 != nil {
		return s.pc4.JoinGroup(iface, &net.UDPAddr{IP: s.group})
	}
	return s.pc6.JoinGroup(iface, &net.UDPAddr{IP: s.group})
}

func (s *MulticastSocket) leaveGroup(iface *net.Interface) error {
	if s.pc4 != nil {
		return s.pc4.LeaveGroup(iface, &net.UDPAddr{IP: s.group})
	}
	return s.pc6.LeaveGroup(iface, &net.UDPAddr{IP: s.group})
}

// setOutgoingInterface pins outgoing group traffic to the configured
// interface when one was named. Without a named interface the OS default
// route applies.
func (s *MulticastSocket) setOutgoingInterface() {
	if s.ifaceName == "" {
		return
	}
	iface, err := net.InterfaceByName(s.ifaceName)
	if err != nil {
		return
	}
	if s.pc4 != nil {
		err = s.pc4.SetMulticastInterface(iface)
	} else {
		err = s.pc6.SetMulticastInterface(iface)
	}
	if err != nil {
		s.log.WithError(err).Warn("set outgoing multicast interface")
	}
}

// Memberships returns the membership labels currently joined, in join
// order.
func (s *MulticastSocket) Memberships() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := make([]string, len(s.memberships))
	for i, m := range s.memberships {
		labels[i] = m.label
	}
	return labels
}

// SendToGroup sends a payload to the socket's multicast group. Failures
// surface only as Error events.
func (s *MulticastSocket) SendToGroup(payload []byte) {
	s.send(payload, s.group, s.port)
}

// Send sends a payload to an arbitrary destination, e.g. a derived
// broadcast address.
func (s *MulticastSocket) Send(payload []byte, ip net.IP, port int) {
	s.send(payload, ip, port)
}

// Stop drops every recorded membership and closes the socket. Leave
// errors are logged, not returned; a second Stop is a no-op.
func (s *MulticastSocket) Stop() {
	s.mu.Lock()
	members := s.memberships
	s.memberships = nil
	s.mu.Unlock()

	for _, m := range members {
		if err := s.leaveFunc(&m.iface); err != nil && !isClosedErr(err) {
			s.log.WithError(err).WithField("membership", m.label).Warn("leave group failed")
		}
	}
	s.stop()
}
