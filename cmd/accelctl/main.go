// File: cmd/accelctl/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// accelctl serves the emulated coprocessor runtime and drives synthetic
// IPv4 lookup offloads against the configured devices.

package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
