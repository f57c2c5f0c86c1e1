package reflector

import "net"

// UnicastSocket is a plain bound-or-ephemeral UDP socket used for
// point-to-point relay traffic, with broadcast sends enabled.
type UnicastSocket struct {
	datagramSocket
}

// NewUnicastSocket creates a unicast socket for one address family. With
// no options the socket binds to an ephemeral port on all addresses.
func NewUnicastSocket(name string, family Family, opts ...SocketOption) *UnicastSocket {
	s := &UnicastSocket{
		datagramSocket: newDatagramSocket(name, family, nil),
	}
	s.broadcast = true
	for _, o := range opts {
		o(&s.datagramSocket)
	}
	return s
}

// WithPort sets a fixed local port for a unicast socket. Zero means an
// ephemeral port.
func WithPort(port int) SocketOption {
	return func(s *datagramSocket) { s.port = port }
}

// Start binds the socket and begins receiving. If an interface name was
// configured without an explicit address, the address is resolved from
// the interface first.
func (s *UnicastSocket) Start() error {
	return s.start(nil)
}

// Send is a fire-and-forget datagram send to (host, port). It is a no-op
// after Stop; failures surface only as Error events.
func (s *UnicastSocket) Send(payload []byte, host net.IP, port int) {
	s.send(payload, host, port)
}

// Stop closes the socket. A second Stop is a no-op.
func (s *UnicastSocket) Stop() {
	s.stop()
}
