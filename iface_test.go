package reflector

import (
	"errors"
	"net"
	"testing"
)

func ipnet(addr string, ones, bits int) *net.IPNet {
	return &net.IPNet{IP: net.ParseIP(addr), Mask: net.CIDRMask(ones, bits)}
}

func TestBroadcastAddress(t *testing.T) {
	tests := []struct {
		ip   string
		ones int
		want string
	}{
		{"192.168.1.50", 24, "192.168.1.255"},
		{"10.1.2.3", 16, "10.1.255.255"},
		{"172.17.0.2", 8, "172.255.255.255"},
	}
	for _, tc := range tests {
		got := broadcastAddress(net.ParseIP(tc.ip), net.CIDRMask(tc.ones, 32))
		if !got.Equal(net.ParseIP(tc.want)) {
			t.Errorf("broadcastAddress(%s/%d) = %v; want %s", tc.ip, tc.ones, got, tc.want)
		}
	}

	if got := broadcastAddress(net.ParseIP("2001:db8::1"), net.CIDRMask(64, 128)); got != nil {
		t.Errorf("broadcastAddress on IPv6 = %v; want nil", got)
	}
}

func TestSelectMembershipOrdering(t *testing.T) {
	linkLocal := ipnet("fe80::1", 64, 128)
	ulaShort := ipnet("fd12:3456::1", 48, 128)
	ula64 := ipnet("fd12:3456:789a::1", 64, 128)
	global := ipnet("2001:db8::1", 64, 128)
	v4 := ipnet("10.0.0.5", 24, 32)
	loopback := ipnet("127.0.0.1", 8, 32)

	tests := []struct {
		name   string
		nets   []*net.IPNet
		family Family
		want   string
		ok     bool
	}{
		{"v4 preferred over v6", []*net.IPNet{global, v4}, FamilyIPv4, "10.0.0.5", true},
		{"v4 skips loopback", []*net.IPNet{loopback}, FamilyIPv4, "", false},
		{"global wins", []*net.IPNet{linkLocal, ulaShort, ula64, global}, FamilyIPv6, "2001:db8::1", true},
		{"ula with 64 mask beats shorter", []*net.IPNet{linkLocal, ulaShort, ula64}, FamilyIPv6, "fd12:3456:789a::1", true},
		{"any ula beats link-local", []*net.IPNet{linkLocal, ulaShort}, FamilyIPv6, "fd12:3456::1", true},
		{"link-local as last resort", []*net.IPNet{linkLocal}, FamilyIPv6, "fe80::1", true},
		{"wrong family", []*net.IPNet{v4}, FamilyIPv6, "", false},
		{"no addresses", nil, FamilyIPv6, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := selectMembership(tc.nets, tc.family)
			if ok != tc.ok {
				t.Fatalf("selectMembership ok = %v; want %v", ok, tc.ok)
			}
			if ok && !got.Equal(net.ParseIP(tc.want)) {
				t.Fatalf("selectMembership = %v; want %s", got, tc.want)
			}
		})
	}
}

func TestIsUniqueLocal(t *testing.T) {
	if !isUniqueLocal(net.ParseIP("fd00::1")) {
		t.Error("fd00::1 should be unique-local")
	}
	if isUniqueLocal(net.ParseIP("fe80::1")) {
		t.Error("fe80::1 is link-local, not unique-local")
	}
	if isUniqueLocal(net.ParseIP("10.0.0.1")) {
		t.Error("IPv4 addresses are never unique-local")
	}
}

func TestIs64Mask(t *testing.T) {
	if !is64Mask(net.CIDRMask(64, 128)) {
		t.Error("a /64 IPv6 mask should match")
	}
	if is64Mask(net.CIDRMask(48, 128)) {
		t.Error("a /48 mask should not match")
	}
	if is64Mask(net.CIDRMask(24, 32)) {
		t.Error("an IPv4 mask should not match")
	}
}

func TestResolveInterfaceAddressUnknown(t *testing.T) {
	_, err := resolveInterfaceAddress(FamilyIPv4, "no-such-iface0")
	if err == nil {
		t.Fatal("expected an error for an unknown interface")
	}
	var notFound *InterfaceNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %T; want *InterfaceNotFoundError", err)
	}
	if notFound.Name != "no-such-iface0" || notFound.Family != FamilyIPv4 {
		t.Fatalf("unexpected error fields: %+v", notFound)
	}
}

func TestInterfaceNotFoundErrorMessage(t *testing.T) {
	err := &InterfaceNotFoundError{Family: FamilyIPv6, Name: "eth9"}
	if err.Error() == "" {
		t.Fatal("error message must not be empty")
	}
}
