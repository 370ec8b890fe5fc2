// File: pool/hostmem.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral host memory allocator contract. Concrete allocators are
// selected at build time through platform-specific files.

package pool

import (
	"fmt"
	"os"

	"github.com/momentics/hioload-accel/api"
)

// HostAllocator allocates host memory close to a NUMA node.
type HostAllocator interface {
	Alloc(size int, node int) ([]byte, error)
	Free(buf []byte) error
	// Pinned reports whether allocations are locked into RAM.
	Pinned() bool
}

// DefaultHostAllocator returns the platform allocator.
func DefaultHostAllocator() HostAllocator {
	return newPlatformAllocator()
}

// HeapAllocator serves allocations from the Go heap.
type HeapAllocator struct{}

// Alloc returns a zeroed slice of size bytes.
func (HeapAllocator) Alloc(size int, node int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", api.ErrInvalidArgument, size)
	}
	return make([]byte, size), nil
}

// Free is a no-op; the garbage collector reclaims the slice.
func (HeapAllocator) Free([]byte) error { return nil }

// Pinned is always false.
func (HeapAllocator) Pinned() bool { return false }

// PageSize is the host page size.
var PageSize = os.Getpagesize()

// RoundToPage rounds n up to a multiple of PageSize.
func RoundToPage(n int) int {
	return (n + PageSize - 1) &^ (PageSize - 1)
}
