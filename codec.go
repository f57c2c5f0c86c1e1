package reflector

import (
	"encoding/binary"
	"errors"
	"net"
	"strings"
)

// DNS wire constants used by the patcher. The codec exists solely to
// locate and overwrite A/AAAA rdata inside a raw message; it is not a
// resolver.
const (
	dnsHeaderLen = 12
	rrTypeA      = 1
	rrTypeAAAA   = 28
	rrFixedLen   = 10 // type(2) + class(2) + ttl(4) + rdlength(2)
)

var errMalformedName = errors.New("malformed dns name")

// decodeName reads a domain name starting at off, following at most one
// level of compression pointer. It returns the dotted name and the
// offset of the first byte after the name as it appears at off. For a
// compressed name that is the byte after the two-byte pointer, not after
// the pointer target.
//
// An out-of-range pointer, a pointer chain, or a label running past the
// buffer end all yield an error.
func decodeName(buf []byte, off int) (string, int, error) {
	var labels []string
	pos := off
	next := -1
	jumped := false

	for {
		if pos < 0 || pos >= len(buf) {
			return "", 0, errMalformedName
		}
		b := int(buf[pos])
		switch {
		case b == 0:
			if !jumped {
				next = pos + 1
			}
			if len(labels) == 0 {
				return ".", next, nil
			}
			return strings.Join(labels, ".") + ".", next, nil

		case b&0xc0 == 0xc0:
			if jumped {
				return "", 0, errMalformedName
			}
			if pos+1 >= len(buf) {
				return "", 0, errMalformedName
			}
			ptr := (b&0x3f)<<8 | int(buf[pos+1])
			// Pointers reference earlier message bytes only.
			if ptr >= pos {
				return "", 0, errMalformedName
			}
			next = pos + 2
			pos = ptr
			jumped = true

		case b&0xc0 != 0:
			// Reserved label types.
			return "", 0, errMalformedName

		default:
			if pos+1+b > len(buf) {
				return "", 0, errMalformedName
			}
			labels = append(labels, string(buf[pos+1:pos+1+b]))
			pos += 1 + b
		}
	}
}

// encodeA returns the 4-byte rdata encoding of an IPv4 address.
func encodeA(ip net.IP) ([]byte, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return nil, false
	}
	return v4, true
}

// encodeAAAA returns the 16-byte rdata encoding of an IPv6 address.
func encodeAAAA(ip net.IP) ([]byte, bool) {
	if ip == nil || ip.To4() != nil {
		return nil, false
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, false
	}
	return v6, true
}

// PatchAddresses rewrites the rdata of every A record with hostIPv4 and
// every AAAA record with hostIPv6 inside a raw DNS message, preserving
// the total message length and every other field. Either address may be
// nil to leave records of that type untouched.
//
// The input is never mutated: on success a patched copy is returned. On
// any malformed input (truncated header, inconsistent name pointer,
// declared counts or rdlength overrunning the buffer) the original
// buffer is returned unchanged; the walk never partially patches.
func PatchAddresses(msg []byte, hostIPv4, hostIPv6 net.IP) []byte {
	if len(msg) < dnsHeaderLen {
		return msg
	}

	var rdataA, rdataAAAA []byte
	if hostIPv4 != nil {
		rdataA, _ = encodeA(hostIPv4)
	}
	if hostIPv6 != nil {
		rdataAAAA, _ = encodeAAAA(hostIPv6)
	}
	if rdataA == nil && rdataAAAA == nil {
		return msg
	}

	out := make([]byte, len(msg))
	copy(out, msg)

	questions := int(binary.BigEndian.Uint16(out[4:6]))
	records := int(binary.BigEndian.Uint16(out[6:8])) +
		int(binary.BigEndian.Uint16(out[8:10])) +
		int(binary.BigEndian.Uint16(out[10:12]))

	off := dnsHeaderLen
	for i := 0; i < questions; i++ {
		_, next, err := decodeName(out, off)
		if err != nil {
			return msg
		}
		off = next + 4 // qtype + qclass
		if off > len(out) {
			return msg
		}
	}

	for i := 0; i < records; i++ {
		_, next, err := decodeName(out, off)
		if err != nil {
			return msg
		}
		off = next
		if off+rrFixedLen > len(out) {
			return msg
		}
		rtype := binary.BigEndian.Uint16(out[off:])
		rdlen := int(binary.BigEndian.Uint16(out[off+8:]))
		off += rrFixedLen
		if off+rdlen > len(out) {
			return msg
		}

		switch {
		case rtype == rrTypeA && rdlen == net.IPv4len && rdataA != nil:
			copy(out[off:off+net.IPv4len], rdataA)
		case rtype == rrTypeAAAA && rdlen == net.IPv6len && rdataAAAA != nil:
			copy(out[off:off+net.IPv6len], rdataAAAA)
		}
		off += rdlen
	}

	return out
}
