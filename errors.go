package reflector

import "fmt"

// InterfaceNotFoundError indicates that no usable address of the required
// family could be resolved from the host's network interfaces. It is fatal
// to the start of the socket that required the address, but never to
// sibling sockets of the same reflector.
type InterfaceNotFoundError struct {
	Family Family
	Name   string // requested interface name, empty when any was allowed
}

func (e *InterfaceNotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("no %s address found on interface %q", e.Family, e.Name)
	}
	return fmt.Sprintf("no %s address found on any interface", e.Family)
}

// MembershipJoinError records the failure to join a multicast group on one
// specific interface. Joins are attempted independently per interface, so
// this error is logged and skipped, never propagated out of Start.
type MembershipJoinError struct {
	Interface string
	Group     string
	Err       error
}

func (e *MembershipJoinError) Error() string {
	return fmt.Sprintf("join %s on %s: %v", e.Group, e.Interface, e.Err)
}

func (e *MembershipJoinError) Unwrap() error { return e.Err }
