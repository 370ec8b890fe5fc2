// File: engine/knapp/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package knapp is the backend of the socket-attached many-core
// coprocessor. Every compute context runs on its own virtual device; the
// device itself keeps a master control channel and a small system vdev for
// synchronous transfers.
package knapp

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/engine"
	"github.com/momentics/hioload-accel/internal/logging"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/knapp/wire"
	"github.com/momentics/hioload-accel/pool"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "knapp")

func init() {
	engine.Register(api.DeviceKnapp, func(id, node int, cfg *control.Config) (api.ComputeDevice, error) {
		return Open(id, node, cfg)
	})
}

// Device is one coprocessor.
type Device struct {
	engine.DeviceBase
	cfg    *control.Config
	alloc  pool.HostAllocator
	master *Client
	sysMu  sync.Mutex // serializes transfers on the system vdev
	sys    *link
	window atomic.Uint32
}

// Open connects to the runtime at cfg.Knapp.RemoteAddr.
func Open(id, numaNode int, cfg *control.Config) (*Device, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	kc := cfg.Knapp
	d := &Device{
		DeviceBase: engine.NewDeviceBase(api.DeviceKnapp, id, numaNode, pool.DefaultHostAllocator()),
		cfg:        cfg,
		alloc:      pool.DefaultHostAllocator(),
	}
	fail := func(msg string, err error) (*Device, error) {
		d.Close()
		return nil, api.WrapError(api.ErrCodeTransport, msg, err).
			WithContext(logfields.Addr, kc.RemoteAddr)
	}
	var err error
	if d.master, err = Dial(kc.RemoteAddr, 0, 0, kc); err != nil {
		return fail("coprocessor master channel", err)
	}
	const hello = "hello"
	if echo, err := d.master.Ping(hello); err != nil || echo != hello {
		if err == nil {
			err = fmt.Errorf("%w: ping echoed %q", api.ErrRemoteReply, echo)
		}
		return fail("coprocessor ping", err)
	}
	if d.sys, err = openLink(d.master, kc, linkShape{pcores: 1, lcores: 1, depth: 1}, d.Log); err != nil {
		return fail("coprocessor system vdev", err)
	}
	d.Log.WithField(logfields.Addr, kc.RemoteAddr).Info("Coprocessor attached")
	return d, nil
}

// AllocDeviceBuffer allocates coprocessor memory; host is only a hint.
func (d *Device) AllocDeviceBuffer(size int, flags int, host api.HostBuffer) (api.DeviceBuffer, error) {
	if size <= 0 {
		return api.DeviceBuffer{}, fmt.Errorf("%w: device buffer size %d", api.ErrInvalidArgument, size)
	}
	p, err := d.master.Malloc(size, wire.DefaultAlign)
	if err != nil {
		return api.DeviceBuffer{}, err
	}
	return d.Dev.Add(p, size), nil
}

// Memwrite copies a host range to the device and waits until it landed.
func (d *Device) Memwrite(h api.HostBuffer, b api.DeviceBuffer, offset, size int) error {
	src, dst, err := d.TransferSpan(h, b, offset, size)
	if err != nil {
		return err
	}
	d.sysMu.Lock()
	defer d.sysMu.Unlock()
	if err := d.sys.data.Write(dst, src); err != nil {
		return err
	}
	return d.sys.data.Fence(d.cfg.Knapp.PollTimeout)
}

// Memread copies a device range into the host buffer.
func (d *Device) Memread(h api.HostBuffer, b api.DeviceBuffer, offset, size int) error {
	dst, src, err := d.TransferSpan(h, b, offset, size)
	if err != nil {
		return err
	}
	d.sysMu.Lock()
	defer d.sysMu.Unlock()
	win := d.window.Add(1)
	d.sys.data.RegisterWindow(win, dst)
	defer d.sys.data.UnregisterWindow(win)
	return d.sys.data.Read(src, size, win, 0, d.cfg.Knapp.PollTimeout)
}

// Master returns the device control channel.
func (d *Device) Master() *Client { return d.master }

// NewContext creates a vdev for ctxID and attaches it.
func (d *Device) NewContext(ctxID int) (api.ComputeContext, error) {
	return newContext(d, ctxID)
}

// Close frees device buffers, the system vdev and the master channel.
func (d *Device) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if d.master != nil {
		var ptrs []api.DevicePtr
		d.Dev.Each(func(p api.DevicePtr, _ int) { ptrs = append(ptrs, p) })
		for _, p := range ptrs {
			keep(d.master.Free(p))
		}
	}
	if d.sys != nil {
		keep(d.sys.close())
		d.sys = nil
	}
	if d.master != nil {
		keep(d.master.Close())
		d.master = nil
	}
	keep(d.Host.Close())
	return first
}
