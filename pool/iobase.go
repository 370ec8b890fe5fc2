// File: pool/iobase.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Rotating io-base slots. Each slot owns input and output arenas on both the
// host and the device; slots are checked out from a lock-free free list and
// returned whole by Release.

package pool

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/internal/concurrency"
)

// ArenaKind selects one of the four arenas of an io base.
type ArenaKind uint32

const (
	InputHost ArenaKind = iota
	InputDevice
	OutputHost
	OutputDevice

	arenaKinds
)

func (k ArenaKind) String() string {
	switch k {
	case InputHost:
		return "input-host"
	case InputDevice:
		return "input-device"
	case OutputHost:
		return "output-host"
	case OutputDevice:
		return "output-device"
	}
	return fmt.Sprintf("arena-kind(%d)", uint32(k))
}

// IsDevice reports whether k is a device-side arena.
func (k ArenaKind) IsDevice() bool { return k == InputDevice || k == OutputDevice }

// ArenaID returns the identifier used for arena kind k of base b.
func ArenaID(b api.IoBase, k ArenaKind) uint32 {
	return uint32(b)*uint32(arenaKinds) + uint32(k)
}

// SplitArenaID is the inverse of ArenaID.
func SplitArenaID(id uint32) (api.IoBase, ArenaKind) {
	return api.IoBase(id / uint32(arenaKinds)), ArenaKind(id % uint32(arenaKinds))
}

// IoBaseConfig sizes an io-base pool.
type IoBaseConfig struct {
	Count int
	Size  int
	Align int
}

// DefaultIoBaseConfig returns the engine defaults.
func DefaultIoBaseConfig() IoBaseConfig {
	return IoBaseConfig{Count: api.MaxIoBases, Size: api.DefaultIoBaseSize, Align: api.DefaultArenaAlign}
}

// Backing supplies the storage of one arena. mem may be nil for arenas that
// only exist on a remote device; base is the device address of offset zero.
// host is the already built host arena of the same direction when k is a
// device kind.
type Backing func(b api.IoBase, k ArenaKind, size int, host *Arena) (mem []byte, base api.DevicePtr, err error)

// IoSet groups the arenas of one io base.
type IoSet struct {
	arenas [arenaKinds]*Arena
	out    atomic.Bool
}

// Arena returns arena k.
func (s *IoSet) Arena(k ArenaKind) *Arena { return s.arenas[k] }

// IoBasePool hands out io bases. Alloc and Release are safe from any
// goroutine; the arenas of a checked-out base belong to its holder.
type IoBasePool struct {
	cfg   IoBaseConfig
	sets  []*IoSet
	free  *concurrency.LockFreeQueue[api.IoBase]
	empty atomic.Uint64
}

// NewIoBasePool builds cfg.Count io bases through backing.
func NewIoBasePool(cfg IoBaseConfig, backing Backing) (*IoBasePool, error) {
	if cfg.Count <= 0 {
		cfg.Count = api.MaxIoBases
	}
	if cfg.Size <= 0 {
		cfg.Size = api.DefaultIoBaseSize
	}
	cfg.Size = RoundToPage(cfg.Size)
	p := &IoBasePool{
		cfg:  cfg,
		sets: make([]*IoSet, cfg.Count),
		free: concurrency.NewLockFreeQueue[api.IoBase](cfg.Count),
	}
	for i := 0; i < cfg.Count; i++ {
		b := api.IoBase(i)
		set := &IoSet{}
		for k := ArenaKind(0); k < arenaKinds; k++ {
			var host *Arena
			if k == InputDevice {
				host = set.arenas[InputHost]
			} else if k == OutputDevice {
				host = set.arenas[OutputHost]
			}
			mem, base, err := backing(b, k, cfg.Size, host)
			if err != nil {
				return nil, fmt.Errorf("io base %d %s arena: %w", i, k, err)
			}
			a, err := NewArena(ArenaID(b, k), cfg.Size, cfg.Align, mem, base)
			if err != nil {
				return nil, err
			}
			set.arenas[k] = a
		}
		p.sets[i] = set
		p.free.Enqueue(b)
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *IoBasePool) Config() IoBaseConfig { return p.cfg }

// Count returns the number of io bases.
func (p *IoBasePool) Count() int { return len(p.sets) }

// Available returns the approximate number of free io bases.
func (p *IoBasePool) Available() int { return p.free.Len() }

// Exhausted returns how many times Alloc found no free base.
func (p *IoBasePool) Exhausted() uint64 { return p.empty.Load() }

// Alloc checks out a free io base, or returns api.InvalidIoBase. Never blocks.
func (p *IoBasePool) Alloc() api.IoBase {
	b, ok := p.free.Dequeue()
	if !ok {
		p.empty.Add(1)
		return api.InvalidIoBase
	}
	p.sets[b].out.Store(true)
	return b
}

// Release resets every arena of b and returns it to the free list.
func (p *IoBasePool) Release(b api.IoBase) error {
	set, err := p.Set(b)
	if err != nil {
		return err
	}
	if !set.out.CompareAndSwap(true, false) {
		return fmt.Errorf("%w: io base %d released twice", api.ErrInvalidIoBase, b)
	}
	for _, a := range set.arenas {
		a.Reset()
	}
	if !p.free.Enqueue(b) {
		return fmt.Errorf("%w: free list overflow on io base %d", api.ErrInvalidIoBase, b)
	}
	return nil
}

// Set returns the arenas of a checked-out base.
func (p *IoBasePool) Set(b api.IoBase) (*IoSet, error) {
	if b < 0 || int(b) >= len(p.sets) {
		return nil, fmt.Errorf("%w: io base %d out of range", api.ErrInvalidIoBase, b)
	}
	set := p.sets[b]
	if !set.out.Load() {
		return nil, fmt.Errorf("%w: io base %d", api.ErrInvalidIoBase, b)
	}
	return set, nil
}

// ArenaByID returns any arena of the pool regardless of checkout state.
func (p *IoBasePool) ArenaByID(id uint32) (*Arena, ArenaKind, bool) {
	b, k := SplitArenaID(id)
	if int(b) >= len(p.sets) {
		return nil, 0, false
	}
	return p.sets[b].arenas[k], k, true
}

// Arenas calls fn for every arena of every base.
func (p *IoBasePool) Arenas(fn func(b api.IoBase, k ArenaKind, a *Arena)) {
	for i, set := range p.sets {
		for k, a := range set.arenas {
			fn(api.IoBase(i), ArenaKind(k), a)
		}
	}
}

func (p *IoBasePool) alloc(b api.IoBase, hk, dk ArenaKind, size int) (api.HostBuffer, api.DeviceBuffer, error) {
	set, err := p.Set(b)
	if err != nil {
		return api.HostBuffer{}, api.DeviceBuffer{}, err
	}
	h, err := set.arenas[hk].Alloc(size)
	if err != nil {
		return api.HostBuffer{}, api.DeviceBuffer{}, err
	}
	d, err := set.arenas[dk].Alloc(size)
	if err != nil {
		return api.HostBuffer{}, api.DeviceBuffer{}, err
	}
	return api.HostBuffer(h), api.DeviceBuffer(d), nil
}

func (p *IoBasePool) mapRange(b api.IoBase, hk, dk ArenaKind, offset, length int) (api.HostBuffer, api.DeviceBuffer, error) {
	set, err := p.Set(b)
	if err != nil {
		return api.HostBuffer{}, api.DeviceBuffer{}, err
	}
	h, err := set.arenas[hk].Map(offset, length)
	if err != nil {
		return api.HostBuffer{}, api.DeviceBuffer{}, err
	}
	d, err := set.arenas[dk].Map(offset, length)
	if err != nil {
		return api.HostBuffer{}, api.DeviceBuffer{}, err
	}
	return api.HostBuffer(h), api.DeviceBuffer(d), nil
}

// AllocInput reserves size bytes in the input arenas of b.
func (p *IoBasePool) AllocInput(b api.IoBase, size int) (api.HostBuffer, api.DeviceBuffer, error) {
	return p.alloc(b, InputHost, InputDevice, size)
}

// AllocOutput reserves size bytes in the output arenas of b.
func (p *IoBasePool) AllocOutput(b api.IoBase, size int) (api.HostBuffer, api.DeviceBuffer, error) {
	return p.alloc(b, OutputHost, OutputDevice, size)
}

// MapInput returns handles for an existing input range of b.
func (p *IoBasePool) MapInput(b api.IoBase, offset, length int) (api.HostBuffer, api.DeviceBuffer, error) {
	return p.mapRange(b, InputHost, InputDevice, offset, length)
}

// MapOutput returns handles for an existing output range of b.
func (p *IoBasePool) MapOutput(b api.IoBase, offset, length int) (api.HostBuffer, api.DeviceBuffer, error) {
	return p.mapRange(b, OutputHost, OutputDevice, offset, length)
}

// InputSize returns the bytes consumed in the input host arena of b.
func (p *IoBasePool) InputSize(b api.IoBase) int {
	set, err := p.Set(b)
	if err != nil {
		return 0
	}
	return set.arenas[InputHost].Used()
}

// OutputSize returns the bytes consumed in the output host arena of b.
func (p *IoBasePool) OutputSize(b api.IoBase) int {
	set, err := p.Set(b)
	if err != nil {
		return 0
	}
	return set.arenas[OutputHost].Used()
}

// HostBytes resolves a host handle issued by this pool.
func (p *IoBasePool) HostBytes(h api.HostBuffer) ([]byte, error) {
	a, k, ok := p.ArenaByID(h.Arena)
	if !ok || k.IsDevice() {
		return nil, fmt.Errorf("%w: %s is not a host handle of this context", api.ErrInvalidArgument, h)
	}
	return a.Bytes(api.MemHandle(h))
}

// DevicePtr resolves a device handle issued by this pool.
func (p *IoBasePool) DevicePtr(d api.DeviceBuffer) (api.DevicePtr, error) {
	a, k, ok := p.ArenaByID(d.Arena)
	if !ok || !k.IsDevice() {
		return api.NullDevicePtr, fmt.Errorf("%w: %s is not a device handle of this context", api.ErrInvalidArgument, d)
	}
	return a.Ptr(api.MemHandle(d))
}

// DeviceArena returns the device arena owning d.
func (p *IoBasePool) DeviceArena(d api.DeviceBuffer) (*Arena, error) {
	a, k, ok := p.ArenaByID(d.Arena)
	if !ok || !k.IsDevice() {
		return nil, fmt.Errorf("%w: %s is not a device handle of this context", api.ErrInvalidArgument, d)
	}
	return a, nil
}
