// File: pool/memspace.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Device address space. Regions are registered byte slices addressed through
// api.DevicePtr; every registration of a region index bumps its generation
// so pointers into an old mapping fail to resolve. An index whose generation
// reaches api.MaxRegionGen is retired.

package pool

import (
	"fmt"
	"math"
	"sync"

	"github.com/momentics/hioload-accel/api"
)

type memRegion struct {
	mem  []byte
	gen  uint32
	live bool
}

// MemSpace maps device pointers to memory. Safe for concurrent use.
type MemSpace struct {
	mu      sync.RWMutex
	regions []memRegion
	free    []uint16
	retired int
	bytes   int64
}

// NewMemSpace returns an empty address space. Region 0 is reserved so that
// no valid pointer equals api.NullDevicePtr.
func NewMemSpace() *MemSpace {
	return &MemSpace{regions: make([]memRegion, 1, 64)}
}

// Register maps mem and returns the pointer to its first byte.
func (s *MemSpace) Register(mem []byte) (api.DevicePtr, error) {
	if len(mem) > api.MaxRegionSize {
		return api.NullDevicePtr, fmt.Errorf("%w: region of %d bytes", api.ErrInvalidArgument, len(mem))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var idx uint16
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		if len(s.regions) > math.MaxUint16 {
			return api.NullDevicePtr, fmt.Errorf("%w: device address space full", api.ErrResourceExhausted)
		}
		idx = uint16(len(s.regions))
		s.regions = append(s.regions, memRegion{})
	}
	r := &s.regions[idx]
	r.mem = mem
	r.live = true
	r.gen++
	s.bytes += int64(len(mem))
	return api.MakeDevicePtr(idx, r.gen, 0), nil
}

// Alloc creates and registers a zeroed region. align must be a power of two;
// region starts are always aligned in device address terms.
func (s *MemSpace) Alloc(size, align int) (api.DevicePtr, error) {
	if size <= 0 {
		return api.NullDevicePtr, fmt.Errorf("%w: size %d", api.ErrInvalidArgument, size)
	}
	if align <= 0 || align&(align-1) != 0 {
		return api.NullDevicePtr, fmt.Errorf("%w: alignment %d", api.ErrInvalidArgument, align)
	}
	return s.Register(make([]byte, size))
}

func (s *MemSpace) lookup(p api.DevicePtr) (*memRegion, error) {
	idx := int(p.Region())
	if idx == 0 || idx >= len(s.regions) {
		return nil, fmt.Errorf("%w: %s", api.ErrBadDevicePtr, p)
	}
	r := &s.regions[idx]
	if !r.live || p.Gen() != r.gen {
		return nil, fmt.Errorf("%w: %s", api.ErrStaleHandle, p)
	}
	return r, nil
}

// Unregister unmaps the region containing p and returns its memory.
func (s *MemSpace) Unregister(p api.DevicePtr) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	mem := r.mem
	s.bytes -= int64(len(mem))
	r.mem = nil
	r.live = false
	if r.gen < api.MaxRegionGen {
		s.free = append(s.free, p.Region())
	} else {
		s.retired++
	}
	return mem, nil
}

// Resolve returns the size bytes starting at p.
func (s *MemSpace) Resolve(p api.DevicePtr, size int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.lookup(p)
	if err != nil {
		return nil, err
	}
	off := p.Offset()
	if size < 0 || off+uint64(size) > uint64(len(r.mem)) {
		return nil, fmt.Errorf("%w: %s+%d beyond region of %d bytes", api.ErrBadDevicePtr, p, size, len(r.mem))
	}
	return r.mem[off : off+uint64(size) : off+uint64(size)], nil
}

// RegionSize returns the length of the region containing p.
func (s *MemSpace) RegionSize(p api.DevicePtr) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.lookup(p)
	if err != nil {
		return 0, err
	}
	return len(r.mem), nil
}

// Stats returns the number of live regions and mapped bytes.
func (s *MemSpace) Stats() (regions int, bytes int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.regions) - 1 - len(s.free) - s.retired, s.bytes
}
