//go:build windows

package reflector

import "golang.org/x/sys/windows"

// setSocketOptions applies pre-bind socket options on Windows.
func setSocketOptions(fd uintptr, reuseAddr, broadcast bool) error {
	if reuseAddr {
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
			return err
		}
	}
	if broadcast {
		if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1); err != nil {
			return err
		}
	}
	return nil
}
