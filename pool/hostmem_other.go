//go:build !linux

// File: pool/hostmem_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

func newPlatformAllocator() HostAllocator {
	return HeapAllocator{}
}
