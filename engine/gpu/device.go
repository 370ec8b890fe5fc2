// File: engine/gpu/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package gpu is the discrete accelerator backend. Device memory is a
// separate address space reached only through explicit copies; workgroups of
// one launch run in parallel across the configured multiprocessors.
package gpu

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/engine"
	"github.com/momentics/hioload-accel/kernels"
	"github.com/momentics/hioload-accel/pool"
)

func init() {
	engine.Register(api.DeviceGPU, func(id, node int, cfg *control.Config) (api.ComputeDevice, error) {
		return Open(id, node, cfg)
	})
}

// DeviceAlign is the allocation alignment of device memory.
const DeviceAlign = 256

// Device is one discrete accelerator.
type Device struct {
	engine.DeviceBase
	cfg   *control.Config
	alloc pool.HostAllocator
	mem   *pool.MemSpace
	lanes int
}

// Open creates device id on numaNode.
func Open(id, numaNode int, cfg *control.Config) (*Device, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	lanes := cfg.GPU.Multiprocessors
	if lanes <= 0 {
		lanes = 1
	}
	alloc := pool.DefaultHostAllocator()
	d := &Device{
		DeviceBase: engine.NewDeviceBase(api.DeviceGPU, id, numaNode, alloc),
		cfg:        cfg,
		alloc:      alloc,
		mem:        pool.NewMemSpace(),
		lanes:      lanes,
	}
	d.Log.WithField("multiprocessors", lanes).Debug("Accelerator initialized")
	return d, nil
}

// Memory returns the device address space.
func (d *Device) Memory() *pool.MemSpace { return d.mem }

// Lanes returns the number of workgroups run concurrently.
func (d *Device) Lanes() int { return d.lanes }

// AllocDeviceBuffer allocates device memory; host is only a hint.
func (d *Device) AllocDeviceBuffer(size int, flags int, host api.HostBuffer) (api.DeviceBuffer, error) {
	ptr, err := d.mem.Alloc(size, DeviceAlign)
	if err != nil {
		return api.DeviceBuffer{}, err
	}
	return d.Dev.Add(ptr, size), nil
}

func (d *Device) Memwrite(h api.HostBuffer, b api.DeviceBuffer, offset, size int) error {
	src, dst, err := d.TransferSpan(h, b, offset, size)
	if err != nil {
		return err
	}
	mem, err := d.mem.Resolve(dst, size)
	if err != nil {
		return err
	}
	copy(mem, src)
	return nil
}

func (d *Device) Memread(h api.HostBuffer, b api.DeviceBuffer, offset, size int) error {
	dst, src, err := d.TransferSpan(h, b, offset, size)
	if err != nil {
		return err
	}
	mem, err := d.mem.Resolve(src, size)
	if err != nil {
		return err
	}
	copy(dst, mem)
	return nil
}

// NewContext builds a context with pinned host arenas and device arenas in
// the device address space.
func (d *Device) NewContext(ctxID int) (api.ComputeContext, error) {
	b := &stream{mem: d.mem, alloc: d.alloc, lanes: d.lanes}
	p, err := pool.NewIoBasePool(pool.IoBaseConfig{
		Count: d.cfg.IoBaseCount,
		Size:  d.cfg.IoBaseSize,
		Align: d.cfg.IoBaseAlign,
	}, b.backing(d.NUMANode()))
	if err != nil {
		b.Close()
		return nil, api.WrapError(api.ErrCodeTransport, "accelerator context io bases", err).
			WithContext("context", ctxID)
	}
	return engine.NewContext(ctxID, api.DeviceGPU, p, b), nil
}

// Close releases device-level buffers.
func (d *Device) Close() error {
	var errs []error
	d.Dev.Each(func(ptr api.DevicePtr, _ int) {
		if _, err := d.mem.Unregister(ptr); err != nil {
			errs = append(errs, err)
		}
	})
	errs = append(errs, d.Host.Close())
	return errors.Join(errs...)
}

// stream is the context backend: host arenas are registered nowhere, device
// arenas are regions of the device address space.
type stream struct {
	mem     *pool.MemSpace
	alloc   pool.HostAllocator
	lanes   int
	regions []api.DevicePtr
	host    [][]byte
}

func (s *stream) backing(node int) pool.Backing {
	return func(_ api.IoBase, k pool.ArenaKind, size int, _ *pool.Arena) ([]byte, api.DevicePtr, error) {
		if !k.IsDevice() {
			mem, err := s.alloc.Alloc(size, node)
			if err != nil {
				return nil, 0, err
			}
			s.host = append(s.host, mem)
			return mem, 0, nil
		}
		ptr, err := s.mem.Alloc(size, DeviceAlign)
		if err != nil {
			return nil, 0, err
		}
		s.regions = append(s.regions, ptr)
		mem, err := s.mem.Resolve(ptr, size)
		return mem, ptr, err
	}
}

func (s *stream) Memwrite(_ api.HostBuffer, src []byte, dst api.DevicePtr) error {
	mem, err := s.mem.Resolve(dst, len(src))
	if err != nil {
		return fmt.Errorf("memwrite: %w", err)
	}
	copy(mem, src)
	return nil
}

func (s *stream) Memread(_ api.HostBuffer, dst []byte, src api.DevicePtr) error {
	mem, err := s.mem.Resolve(src, len(dst))
	if err != nil {
		return fmt.Errorf("memread: %w", err)
	}
	copy(dst, mem)
	return nil
}

func (s *stream) CheckKernel(k api.KernelHandle) error {
	_, err := kernels.Resolve(k)
	return err
}

func (s *stream) Launch(k api.KernelHandle, args []api.KernelArg, res api.ResourceParam) error {
	fn, err := kernels.Resolve(k)
	if err != nil {
		return err
	}
	return engine.RunKernel(s.mem, fn, args, res, s.lanes)
}

func (s *stream) Close() error {
	for _, p := range s.regions {
		s.mem.Unregister(p)
	}
	s.regions = nil
	var first error
	for _, m := range s.host {
		if err := s.alloc.Free(m); err != nil && first == nil {
			first = err
		}
	}
	s.host = nil
	return first
}
