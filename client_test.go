package reflector

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
)

// loopbackClient assembles a Client whose unicast sockets are bound to
// loopback, with the given endpoints already resolved.
func loopbackClient(t *testing.T, eps ...endpoint) *Client {
	t.Helper()

	c := &Client{opts: defaultOptions()}
	c.opts.logger = testLogger()
	c.core.log = c.opts.logger.WithField("role", "reflector-client")
	c.endpoints = eps

	c.ucast4 = NewUnicastSocket("ucast-v4", FamilyIPv4,
		WithBindAddress(net.IPv4(127, 0, 0, 1)),
		WithSocketLogger(testLogger()))
	if err := c.ucast4.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.ucast4.Stop)
	return c
}

func TestClientForward(t *testing.T) {
	reflector, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer reflector.Close()

	c := loopbackClient(t, endpoint{host: "127.0.0.1", ip: net.IPv4(127, 0, 0, 1)})
	c.opts.reflectorPort = reflector.LocalAddr().(*net.UDPAddr).Port

	payload := []byte("ANNOUNCE observed on the local group")
	c.forward(payload, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353})

	reflector.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, inboundBufferSize)
	n, _, err := reflector.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("reflector received nothing: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("reflector received %q; want the payload byte for byte", buf[:n])
	}
}

func TestClientForwardFanOut(t *testing.T) {
	// Two endpoints share the reflector port on different loopback
	// addresses; both must receive every forwarded payload.
	epA, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer epA.Close()
	port := epA.LocalAddr().(*net.UDPAddr).Port

	epB, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 2), Port: port})
	if err != nil {
		t.Skipf("second loopback address unavailable: %v", err)
	}
	defer epB.Close()

	c := loopbackClient(t,
		endpoint{host: "127.0.0.1", ip: net.IPv4(127, 0, 0, 1)},
		endpoint{host: "127.0.0.2", ip: net.IPv4(127, 0, 0, 2)},
	)
	c.opts.reflectorPort = port

	payload := []byte("ANNOUNCE fan-out")
	c.forward(payload, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353})

	for _, conn := range []*net.UDPConn{epA, epB} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 256)
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("endpoint %v received nothing: %v", conn.LocalAddr(), err)
		}
		if !bytes.Equal(buf[:n], payload) {
			t.Fatalf("endpoint %v received %q", conn.LocalAddr(), buf[:n])
		}
	}
}

func TestClientForwardFilterDrop(t *testing.T) {
	reflector, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer reflector.Close()

	c := loopbackClient(t, endpoint{host: "127.0.0.1", ip: net.IPv4(127, 0, 0, 1)})
	c.opts.reflectorPort = reflector.LocalAddr().(*net.UDPAddr).Port
	c.opts.filter = NewNameFilter("_matches-nothing._tcp")

	c.forward(packQuery(t, "_airplay._tcp.local", dns.TypePTR), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353})

	reflector.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if n, _, err := reflector.ReadFromUDP(make([]byte, 256)); err == nil {
		t.Fatalf("filtered payload of %d bytes was forwarded", n)
	}
}

func TestClientResolveEndpoints(t *testing.T) {
	c := NewClient(
		WithLogger(testLogger()),
		WithReflectorEndpoints("192.168.1.10", "fd00::10", "bad host name"),
	)
	c.resolveEndpoints()

	if len(c.endpoints) != 2 {
		t.Fatalf("resolved %d endpoints; want 2 (the unresolvable host is skipped)", len(c.endpoints))
	}
	if !c.endpoints[0].ip.Equal(net.ParseIP("192.168.1.10")) {
		t.Fatalf("endpoint 0 = %v", c.endpoints[0].ip)
	}
	if !c.endpoints[1].ip.Equal(net.ParseIP("fd00::10")) {
		t.Fatalf("endpoint 1 = %v", c.endpoints[1].ip)
	}
}

func TestClientLifecycle(t *testing.T) {
	c := NewClient(
		WithPreset(Preset{
			GroupIPv4: net.IPv4(224, 0, 0, 251),
			GroupIPv6: net.ParseIP("ff02::fb"),
			Port:      0,
		}),
		WithReflectorEndpoints("127.0.0.1"),
		WithLogger(testLogger()),
	)

	c.Stop() // before Start, a no-op

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); err != errNotIdle {
		t.Fatalf("second Start = %v; want errNotIdle", err)
	}
	c.Stop()
	c.Stop() // second stop is a no-op
}
