// File: engine/knapp/dial_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux

package knapp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddr sets SO_REUSEADDR so fixed local ports rebind right after a
// context is torn down.
func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
