//go:build linux

// File: pool/hostmem_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux host allocator: anonymous mmap, preferred NUMA binding, mlock.

package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const mpolPreferred = 1

type mmapAllocator struct {
	warnOnce sync.Once
	unpinned atomic.Bool
}

func newPlatformAllocator() HostAllocator {
	return &mmapAllocator{}
}

func (a *mmapAllocator) Alloc(size int, node int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", api.ErrInvalidArgument, size)
	}
	mem, err := unix.Mmap(-1, 0, RoundToPage(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	if node >= 0 && node < 64 {
		mask := uint64(1) << uint(node)
		// Errors leave the kernel default policy in place.
		_, _, _ = unix.Syscall6(unix.SYS_MBIND,
			uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)),
			mpolPreferred, uintptr(unsafe.Pointer(&mask)), 64, 0)
	}
	if err := unix.Mlock(mem); err != nil {
		a.warnOnce.Do(func() {
			a.unpinned.Store(true)
			log.WithError(err).WithFields(logrus.Fields{
				logfields.Size:     size,
				logfields.NUMANode: node,
			}).Warn("Unable to lock host arena memory, continuing unpinned")
		})
	}
	return mem[:size], nil
}

func (a *mmapAllocator) Free(buf []byte) error {
	if cap(buf) == 0 {
		return nil
	}
	buf = buf[:cap(buf)]
	_ = unix.Munlock(buf)
	return unix.Munmap(buf)
}

func (a *mmapAllocator) Pinned() bool { return !a.unpinned.Load() }
