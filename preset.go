package reflector

import "net"

// Preset bundles the multicast group addresses and port of one
// service-discovery protocol. The socket types are protocol-agnostic;
// a preset only supplies the constants.
type Preset struct {
	GroupIPv4 net.IP
	GroupIPv6 net.IP
	Port      int
}

var (
	// MDNS is the multicast DNS group set (RFC 6762).
	MDNS = Preset{
		GroupIPv4: net.IPv4(224, 0, 0, 251),
		GroupIPv6: net.ParseIP("ff02::fb"),
		Port:      5353,
	}

	// CoAP is the CoAP discovery group set (RFC 7252).
	CoAP = Preset{
		GroupIPv4: net.IPv4(224, 0, 1, 187),
		GroupIPv6: net.ParseIP("ff02::fd"),
		Port:      5683,
	}
)

// Group returns the preset's multicast group for the given family.
func (p Preset) Group(f Family) net.IP {
	if f == FamilyIPv4 {
		return p.GroupIPv4
	}
	return p.GroupIPv6
}
