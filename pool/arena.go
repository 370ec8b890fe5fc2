// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bump arena over a fixed region. Allocation advances an offset; the whole
// arena is reset at once, which also invalidates every handle issued before.

package pool

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-accel/api"
)

// Arena is a bump allocator. mem is nil for arenas whose storage lives on a
// remote device; such arenas only hand out offsets and device pointers.
type Arena struct {
	mu    sync.Mutex
	id    uint32
	mem   []byte
	base  api.DevicePtr
	size  int
	align int
	off   int
	gen   uint32
}

// NewArena builds an arena of size bytes. align must be a power of two;
// zero selects api.DefaultArenaAlign.
func NewArena(id uint32, size, align int, mem []byte, base api.DevicePtr) (*Arena, error) {
	if align == 0 {
		align = api.DefaultArenaAlign
	}
	if align < 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: alignment %d is not a power of two", api.ErrInvalidArgument, align)
	}
	if size < 0 || (mem != nil && len(mem) < size) {
		return nil, fmt.Errorf("%w: arena size %d, backing %d", api.ErrInvalidArgument, size, len(mem))
	}
	return &Arena{id: id, mem: mem, base: base, size: size, align: align, gen: 1}, nil
}

// ID returns the arena identifier carried by its handles.
func (a *Arena) ID() uint32 { return a.id }

// Size returns the arena capacity.
func (a *Arena) Size() int { return a.size }

// Base returns the device address of offset zero.
func (a *Arena) Base() api.DevicePtr { return a.base }

// Backing returns the whole backing region, nil for remote-resident arenas.
func (a *Arena) Backing() []byte { return a.mem }

// Used returns the current bump offset.
func (a *Arena) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.off
}

// Gen returns the current generation.
func (a *Arena) Gen() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

// Alloc reserves size bytes at the next aligned offset.
func (a *Arena) Alloc(size int) (api.MemHandle, error) {
	if size < 0 {
		return api.MemHandle{}, fmt.Errorf("%w: size %d", api.ErrInvalidArgument, size)
	}
	if size > a.size {
		return api.MemHandle{}, fmt.Errorf("%w: arena %d holds %d bytes, %d requested",
			api.ErrArenaTooSmall, a.id, a.size, size)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	start := (a.off + a.align - 1) &^ (a.align - 1)
	if start > a.size || size > a.size-start {
		return api.MemHandle{}, fmt.Errorf("%w: arena %d needs %d bytes at %d of %d",
			api.ErrArenaExhausted, a.id, size, start, a.size)
	}
	a.off = start + size
	return api.MemHandle{Arena: a.id, Gen: a.gen, Offset: start, Size: size}, nil
}

// Map returns a handle for an existing range without moving the offset.
func (a *Arena) Map(offset, length int) (api.MemHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if offset < 0 || length < 0 || offset > a.size || length > a.size-offset {
		return api.MemHandle{}, fmt.Errorf("%w: map [%d,+%d) of %d",
			api.ErrInvalidArgument, offset, length, a.size)
	}
	return api.MemHandle{Arena: a.id, Gen: a.gen, Offset: offset, Size: length}, nil
}

// Reset rewinds the arena and bumps its generation.
func (a *Arena) Reset() {
	a.mu.Lock()
	a.off = 0
	a.gen++
	if a.gen == 0 {
		a.gen = 1
	}
	a.mu.Unlock()
}

func (a *Arena) check(h api.MemHandle) error {
	if h.Arena != a.id {
		return fmt.Errorf("%w: handle for arena %d used on arena %d", api.ErrInvalidArgument, h.Arena, a.id)
	}
	if h.Gen != a.gen {
		return fmt.Errorf("%w: arena %d gen %d, handle gen %d", api.ErrStaleHandle, a.id, a.gen, h.Gen)
	}
	if h.Offset < 0 || h.Size < 0 || h.Offset > a.size || h.Size > a.size-h.Offset {
		return fmt.Errorf("%w: handle [%d,+%d) outside arena %d", api.ErrInvalidArgument, h.Offset, h.Size, a.id)
	}
	return nil
}

// Bytes resolves a handle to its backing bytes.
func (a *Arena) Bytes(h api.MemHandle) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(h); err != nil {
		return nil, err
	}
	if a.mem == nil {
		return nil, fmt.Errorf("%w: arena %d has no host mapping", api.ErrNotSupported, a.id)
	}
	return a.mem[h.Offset : h.Offset+h.Size : h.Offset+h.Size], nil
}

// Ptr resolves a handle to its device address.
func (a *Arena) Ptr(h api.MemHandle) (api.DevicePtr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.check(h); err != nil {
		return api.NullDevicePtr, err
	}
	return a.base.Add(h.Offset), nil
}
