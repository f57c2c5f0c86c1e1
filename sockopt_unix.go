//go:build !windows

package reflector

import "golang.org/x/sys/unix"

// setSocketOptions applies pre-bind socket options on non-Windows
// platforms. SO_REUSEADDR lets a relay socket share the well-known
// multicast port with a local resolver daemon; SO_BROADCAST permits
// sends to directed broadcast addresses.
func setSocketOptions(fd uintptr, reuseAddr, broadcast bool) error {
	if reuseAddr {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return err
		}
	}
	if broadcast {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			return err
		}
	}
	return nil
}
