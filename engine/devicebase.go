// File: engine/devicebase.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Device-level buffer bookkeeping shared by the backends.

package engine

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/pool"
	"github.com/sirupsen/logrus"
)

// HostBufferTable tracks device-level host allocations.
type HostBufferTable struct {
	mu    sync.Mutex
	alloc pool.HostAllocator
	node  int
	next  uint32
	bufs  map[uint32][]byte
}

// NewHostBufferTable creates a table allocating on node.
func NewHostBufferTable(alloc pool.HostAllocator, node int) *HostBufferTable {
	if alloc == nil {
		alloc = pool.HeapAllocator{}
	}
	return &HostBufferTable{alloc: alloc, node: node, bufs: make(map[uint32][]byte)}
}

// Alloc reserves size bytes.
func (t *HostBufferTable) Alloc(size int) (api.HostBuffer, error) {
	if size <= 0 {
		return api.HostBuffer{}, fmt.Errorf("%w: host buffer size %d", api.ErrInvalidArgument, size)
	}
	mem, err := t.alloc.Alloc(size, t.node)
	if err != nil {
		return api.HostBuffer{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.bufs[t.next] = mem
	return api.HostBuffer{Arena: t.next, Gen: 1, Size: size}, nil
}

// Bytes resolves a handle.
func (t *HostBufferTable) Bytes(h api.HostBuffer) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mem, ok := t.bufs[h.Arena]
	if !ok || h.Gen != 1 {
		return nil, fmt.Errorf("%w: %s", api.ErrStaleHandle, h)
	}
	if h.Offset < 0 || h.Offset+h.Size > len(mem) {
		return nil, fmt.Errorf("%w: %s beyond %d bytes", api.ErrInvalidArgument, h, len(mem))
	}
	return mem[h.Offset : h.Offset+h.Size], nil
}

// Free releases h.
func (t *HostBufferTable) Free(h api.HostBuffer) error {
	t.mu.Lock()
	mem, ok := t.bufs[h.Arena]
	delete(t.bufs, h.Arena)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrStaleHandle, h)
	}
	return t.alloc.Free(mem)
}

// Close releases everything.
func (t *HostBufferTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for id, mem := range t.bufs {
		if err := t.alloc.Free(mem); err != nil && first == nil {
			first = err
		}
		delete(t.bufs, id)
	}
	return first
}

type deviceAlloc struct {
	ptr  api.DevicePtr
	size int
}

// DeviceBufferTable tracks device-level device allocations by address.
type DeviceBufferTable struct {
	mu   sync.Mutex
	next uint32
	bufs map[uint32]deviceAlloc
}

// NewDeviceBufferTable creates an empty table.
func NewDeviceBufferTable() *DeviceBufferTable {
	return &DeviceBufferTable{bufs: make(map[uint32]deviceAlloc)}
}

// Add records an allocation and returns its handle.
func (t *DeviceBufferTable) Add(ptr api.DevicePtr, size int) api.DeviceBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.bufs[t.next] = deviceAlloc{ptr: ptr, size: size}
	return api.DeviceBuffer{Arena: t.next, Gen: 1, Size: size}
}

// Ptr resolves a handle to the device address of its first byte.
func (t *DeviceBufferTable) Ptr(d api.DeviceBuffer) (api.DevicePtr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.bufs[d.Arena]
	if !ok || d.Gen != 1 {
		return api.NullDevicePtr, fmt.Errorf("%w: %s", api.ErrStaleHandle, d)
	}
	if d.Offset < 0 || d.Offset+d.Size > a.size {
		return api.NullDevicePtr, fmt.Errorf("%w: %s beyond %d bytes", api.ErrInvalidArgument, d, a.size)
	}
	return a.ptr.Add(d.Offset), nil
}

// Remove forgets a handle and returns its base address.
func (t *DeviceBufferTable) Remove(d api.DeviceBuffer) (api.DevicePtr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.bufs[d.Arena]
	if !ok {
		return api.NullDevicePtr, fmt.Errorf("%w: %s", api.ErrStaleHandle, d)
	}
	delete(t.bufs, d.Arena)
	return a.ptr, nil
}

// Each calls fn for every live allocation.
func (t *DeviceBufferTable) Each(fn func(ptr api.DevicePtr, size int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range t.bufs {
		fn(a.ptr, a.size)
	}
}

// DeviceBase carries identity and device-level buffers; backends embed it.
type DeviceBase struct {
	typ  api.DeviceType
	id   int
	node int

	Host *HostBufferTable
	Dev  *DeviceBufferTable
	Log  *logrus.Entry
}

// NewDeviceBase initializes the shared device state.
func NewDeviceBase(typ api.DeviceType, id, node int, alloc pool.HostAllocator) DeviceBase {
	return DeviceBase{
		typ:  typ,
		id:   id,
		node: node,
		Host: NewHostBufferTable(alloc, node),
		Dev:  NewDeviceBufferTable(),
		Log: log.WithFields(logrus.Fields{
			logfields.DeviceType: typ.String(),
			logfields.DeviceID:   id,
		}),
	}
}

func (d *DeviceBase) Type() api.DeviceType { return d.typ }
func (d *DeviceBase) ID() int { return d.id }
func (d *DeviceBase) NUMANode() int { return d.node }

func (d *DeviceBase) AllocHostBuffer(size int, flags int) (api.HostBuffer, error) {
	return d.Host.Alloc(size)
}

func (d *DeviceBase) UnwrapHostBuffer(h api.HostBuffer) ([]byte, error) { return d.Host.Bytes(h) }

func (d *DeviceBase) UnwrapDeviceBuffer(b api.DeviceBuffer) (api.DevicePtr, error) {
	return d.Dev.Ptr(b)
}

// TransferSpan resolves a device-level transfer range.
func (d *DeviceBase) TransferSpan(h api.HostBuffer, b api.DeviceBuffer, offset, size int) ([]byte, api.DevicePtr, error) {
	if offset < 0 || size < 0 || offset+size > h.Size || offset+size > b.Size {
		return nil, api.NullDevicePtr, fmt.Errorf("%w: transfer [%d,+%d) over %s / %s", api.ErrInvalidArgument, offset, size, h, b)
	}
	hb, err := d.Host.Bytes(h)
	if err != nil {
		return nil, api.NullDevicePtr, err
	}
	p, err := d.Dev.Ptr(b)
	if err != nil {
		return nil, api.NullDevicePtr, err
	}
	return hb[offset : offset+size], p.Add(offset), nil
}
