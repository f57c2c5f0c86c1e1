// Package reflector relays multicast service-discovery traffic (mDNS,
// CoAP discovery) across network boundaries that multicast cannot cross,
// such as an isolated container network reaching the host LAN.
//
// A Client observes multicast chatter on its local segment and forwards
// the raw datagrams over unicast to one or more remote reflector
// endpoints. A Server receives those unicast datagrams, re-emits them
// onto its own local multicast group, and acknowledges the sender. The
// relay is byte-level: payloads are never reinterpreted except by the
// optional address-patch path, which rewrites A/AAAA record data for
// traffic stamped with a non-routable container address.
package reflector
