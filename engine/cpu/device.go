// File: engine/cpu/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package cpu is the fallback compute backend. Device memory aliases host
// memory and kernels run on the context stream goroutine.
package cpu

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
	engine.Register(api.DeviceCPU, func(id, node int, cfg *control.Config) (api.ComputeDevice, error) {
		return Open(id, node, cfg)
	})
}

// Device is the CPU compute device.
type Device struct {
	engine.DeviceBase
	cfg   *control.Config
	alloc pool.HostAllocator
	mem   *pool.MemSpace
}

// Open creates a CPU device on numaNode.
func Open(id, numaNode int, cfg *control.Config) (*Device, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	alloc := pool.DefaultHostAllocator()
	return &Device{
		DeviceBase: engine.NewDeviceBase(api.DeviceCPU, id, numaNode, alloc),
		cfg:        cfg,
		alloc:      alloc,
		mem:        pool.NewMemSpace(),
	}, nil
}

// Memory returns the device address space.
func (d *Device) Memory() *pool.MemSpace { return d.mem }

// AllocDeviceBuffer maps host when given, so device writes land in place;
// otherwise a fresh region is allocated.
func (d *Device) AllocDeviceBuffer(size int, flags int, host api.HostBuffer) (api.DeviceBuffer, error) {
	if size <= 0 {
		return api.DeviceBuffer{}, fmt.Errorf("%w: device buffer size %d", api.ErrInvalidArgument, size)
	}
	var (
		ptr api.DevicePtr
		err error
	)
	if host.Arena != 0 {
		var hb []byte
		if hb, err = d.Host.Bytes(host); err != nil {
			return api.DeviceBuffer{}, err
		}
		if len(hb) < size {
			return api.DeviceBuffer{}, fmt.Errorf("%w: host buffer %s smaller than %d", api.ErrInvalidArgument, host, size)
		}
		ptr, err = d.mem.Register(hb[:size])
	} else {
		ptr, err = d.mem.Alloc(size, api.DefaultArenaAlign)
	}
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

// NewContext builds a context whose device arenas alias its host arenas.
func (d *Device) NewContext(ctxID int) (api.ComputeContext, error) {
	b := &backend{mem: d.mem, alloc: d.alloc}
	p, err := pool.NewIoBasePool(pool.IoBaseConfig{
		Count: d.cfg.IoBaseCount,
		Size:  d.cfg.IoBaseSize,
		Align: d.cfg.IoBaseAlign,
	}, b.backing(d.NUMANode()))
	if err != nil {
		b.Close()
		return nil, api.WrapError(api.ErrCodeTransport, "cpu context io bases", err).
			WithContext("context", ctxID)
	}
	return engine.NewContext(ctxID, api.DeviceCPU, p, b), nil
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

type backend struct {
	mem     *pool.MemSpace
	alloc   pool.HostAllocator
	regions []api.DevicePtr
	host    [][]byte
}

func (b *backend) backing(node int) pool.Backing {
	return func(_ api.IoBase, k pool.ArenaKind, size int, host *pool.Arena) ([]byte, api.DevicePtr, error) {
		if k.IsDevice() {
			return host.Backing(), host.Base(), nil
		}
		mem, err := b.alloc.Alloc(size, node)
		if err != nil {
			return nil, 0, err
		}
		b.host = append(b.host, mem)
		ptr, err := b.mem.Register(mem)
		if err != nil {
			return nil, 0, err
		}
		b.regions = append(b.regions, ptr)
		return mem, ptr, nil
	}
}

func (b *backend) Memwrite(_ api.HostBuffer, src []byte, dst api.DevicePtr) error {
	mem, err := b.mem.Resolve(dst, len(src))
	if err != nil {
		return err
	}
	copy(mem, src)
	return nil
}

func (b *backend) Memread(_ api.HostBuffer, dst []byte, src api.DevicePtr) error {
	mem, err := b.mem.Resolve(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, mem)
	return nil
}

func (b *backend) CheckKernel(k api.KernelHandle) error {
	_, err := kernels.Resolve(k)
	return err
}

func (b *backend) Launch(k api.KernelHandle, args []api.KernelArg, res api.ResourceParam) error {
	fn, err := kernels.Resolve(k)
	if err != nil {
		return err
	}
	return engine.RunKernel(b.mem, fn, args, res, 1)
}

func (b *backend) Close() error {
	for _, p := range b.regions {
		b.mem.Unregister(p)
	}
	b.regions = nil
	var first error
	for _, m := range b.host {
		if err := b.alloc.Free(m); err != nil && first == nil {
			first = err
		}
	}
	b.host = nil
	return first
}
