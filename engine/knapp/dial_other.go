// File: engine/knapp/dial_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build !linux

package knapp

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error { return nil }
