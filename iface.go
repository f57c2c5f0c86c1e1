package reflector

import (
	"net"
)

// listMulticastInterfaces scans all system network interfaces and returns
// those that are up and support multicast communication. These form the
// candidate set for multicast group joins when no interface was named
// explicitly.
func listMulticastInterfaces() []net.Interface {
	var interfaces []net.Interface
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	// Filter interfaces: must be UP and support MULTICAST
	for _, ifi := range ifaces {
		if (ifi.Flags & net.FlagUp) == 0 {
			continue
		}
		if (ifi.Flags & net.FlagMulticast) > 0 {
			interfaces = append(interfaces, ifi)
		}
	}

	return interfaces
}

// interfaceAddrs extracts the IP/mask pairs assigned to one interface,
// skipping entries that carry no IP network.
func interfaceAddrs(iface *net.Interface) []*net.IPNet {
	var nets []*net.IPNet
	addrs, _ := iface.Addrs()
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok {
			nets = append(nets, ipnet)
		}
	}
	return nets
}

// resolveInterfaceAddress returns the first non-internal host address of
// the required family, optionally restricted to the named interface.
//
// This backs the lazy bind-address resolution of sockets that were
// configured with an interface name instead of a literal address.
//
// Returns an InterfaceNotFoundError if no interface carries a matching
// address.
func resolveInterfaceAddress(family Family, ifaceName string) (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, &InterfaceNotFoundError{Family: family, Name: ifaceName}
	}

	for _, iface := range ifaces {
		if ifaceName != "" && iface.Name != ifaceName {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		for _, ipnet := range interfaceAddrs(&iface) {
			ip := ipnet.IP
			if ip.IsLoopback() || !family.matches(ip) {
				continue
			}
			return ip, nil
		}
	}

	return nil, &InterfaceNotFoundError{Family: family, Name: ifaceName}
}

// interfaceNetmask looks up the netmask of the interface owning addr.
// Returns nil when no interface carries the address.
func interfaceNetmask(addr net.IP) net.IPMask {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		for _, ipnet := range interfaceAddrs(&iface) {
			if ipnet.IP.Equal(addr) {
				return ipnet.Mask
			}
		}
	}
	return nil
}

// broadcastAddress derives the IPv4 directed-broadcast address for the
// subnet given by ip and mask. Returns nil for non-IPv4 input.
func broadcastAddress(ip net.IP, mask net.IPMask) net.IP {
	ip4 := ip.To4()
	if ip4 == nil || len(mask) < 4 {
		return nil
	}
	mask4 := mask[len(mask)-4:]
	bcast := make(net.IP, 4)
	for i := range bcast {
		bcast[i] = ip4[i] | ^mask4[i]
	}
	return bcast
}

// isUniqueLocal reports whether ip falls in the fd00::/8 Unique-Local
// IPv6 range.
func isUniqueLocal(ip net.IP) bool {
	return ip.To4() == nil && len(ip) == net.IPv6len && ip[0] == 0xfd
}

// is64Mask reports whether mask describes a /64 prefix.
func is64Mask(mask net.IPMask) bool {
	ones, bits := mask.Size()
	return ones == 64 && bits == 128
}

// membershipRung is one step of the ordered membership-address heuristic.
// Rungs are evaluated in sequence per interface; the first address
// matching any rung wins.
type membershipRung struct {
	family Family
	match  func(ipnet *net.IPNet) bool
}

// membershipHeuristic selects the address used to label a multicast group
// membership on one interface:
//
//  1. first IPv4 address (IPv4 sockets),
//  2. first global IPv6 address (IPv6 sockets),
//  3. first Unique-Local IPv6 address with a /64 netmask,
//  4. first Unique-Local IPv6 address,
//  5. first link-local IPv6 address.
var membershipHeuristic = []membershipRung{
	{FamilyIPv4, func(n *net.IPNet) bool {
		return n.IP.To4() != nil
	}},
	{FamilyIPv6, func(n *net.IPNet) bool {
		return !n.IP.IsLinkLocalUnicast() && !isUniqueLocal(n.IP)
	}},
	{FamilyIPv6, func(n *net.IPNet) bool {
		return isUniqueLocal(n.IP) && is64Mask(n.Mask)
	}},
	{FamilyIPv6, func(n *net.IPNet) bool {
		return isUniqueLocal(n.IP)
	}},
	{FamilyIPv6, func(n *net.IPNet) bool {
		return n.IP.IsLinkLocalUnicast()
	}},
}

// selectMembership applies the heuristic to one interface's address set
// and returns the chosen address, or false when no address is usable for
// the family.
func selectMembership(nets []*net.IPNet, family Family) (net.IP, bool) {
	for _, rung := range membershipHeuristic {
		if rung.family != family {
			continue
		}
		for _, ipnet := range nets {
			if ipnet.IP.IsLoopback() || !family.matches(ipnet.IP) {
				continue
			}
			if rung.match(ipnet) {
				return ipnet.IP, true
			}
		}
	}
	return nil, false
}

// selectMembershipAddress is the interface-level entry point of the
// membership heuristic.
func selectMembershipAddress(iface *net.Interface, family Family) (net.IP, bool) {
	return selectMembership(interfaceAddrs(iface), family)
}
