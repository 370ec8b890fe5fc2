// File: engine/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend-neutral compute context: io-base pool, argument stager, launch
// state machine and the context-private stream.

package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/pool"
	"github.com/sirupsen/logrus"
)

// ContextBackend is the device-specific half of a context. Every method
// except CheckKernel and Close runs on the context stream goroutine.
type ContextBackend interface {
	// Memwrite copies src into device memory at dst. h locates src.
	Memwrite(h api.HostBuffer, src []byte, dst api.DevicePtr) error
	// Memread copies device memory at src into dst. h locates dst.
	Memread(h api.HostBuffer, dst []byte, src api.DevicePtr) error
	// Launch runs a kernel to completion.
	Launch(k api.KernelHandle, args []api.KernelArg, res api.ResourceParam) error
	// CheckKernel rejects handles the backend cannot execute.
	CheckKernel(k api.KernelHandle) error
	// Close releases device resources after the stream has drained.
	Close() error
}

// Context implements api.ComputeContext over a ContextBackend.
type Context struct {
	id      int
	typ     api.DeviceType
	pool    *pool.IoBasePool
	args    ArgStager
	state   atomic.Int32
	stream  *Stream
	backend ContextBackend
	log     *logrus.Entry

	launches atomic.Uint64
	closed   sync.Once
	closeErr error
}

// NewContext assembles a context. The pool and backend belong to it from
// now on and are released by Close.
func NewContext(id int, typ api.DeviceType, p *pool.IoBasePool, backend ContextBackend) *Context {
	c := &Context{
		id:      id,
		typ:     typ,
		pool:    p,
		backend: backend,
		stream:  NewStream(fmt.Sprintf("%s/%d", typ, id)),
		log: log.WithFields(logrus.Fields{
			logfields.DeviceType: typ.String(),
			logfields.ContextID:  id,
		}),
	}
	c.state.Store(int32(api.ContextIdle))
	return c
}

func (c *Context) ID() int { return c.id }
func (c *Context) Type() api.DeviceType { return c.typ }
func (c *Context) State() api.ContextState { return api.ContextState(c.state.Load()) }
func (c *Context) Pool() *pool.IoBasePool { return c.pool }
func (c *Context) Backend() ContextBackend { return c.backend }
func (c *Context) Launches() uint64 { return c.launches.Load() }

// Err returns the sticky stream fault.
func (c *Context) Err() error { return c.stream.Err() }

// AllocIoBase never blocks; api.InvalidIoBase means every slot is in use.
func (c *Context) AllocIoBase() api.IoBase {
	b := c.pool.Alloc()
	if !b.Valid() {
		control.IoBaseExhausted.WithLabelValues(c.typ.String()).Inc()
	}
	return b
}

func (c *Context) AllocInputBuffer(b api.IoBase, size int) (api.HostBuffer, api.DeviceBuffer, error) {
	return c.pool.AllocInput(b, size)
}

func (c *Context) AllocOutputBuffer(b api.IoBase, size int) (api.HostBuffer, api.DeviceBuffer, error) {
	return c.pool.AllocOutput(b, size)
}

func (c *Context) MapInputBuffer(b api.IoBase, offset, length int) (api.HostBuffer, api.DeviceBuffer, error) {
	return c.pool.MapInput(b, offset, length)
}

func (c *Context) MapOutputBuffer(b api.IoBase, offset, length int) (api.HostBuffer, api.DeviceBuffer, error) {
	return c.pool.MapOutput(b, offset, length)
}

func (c *Context) InputSize(b api.IoBase) int  { return c.pool.InputSize(b) }
func (c *Context) OutputSize(b api.IoBase) int { return c.pool.OutputSize(b) }

// ClearIoBuffers resets every arena of b and returns it to the free list.
// While transfers or kernels are queued or running, the release is ordered
// behind them on the stream, so b is never handed out again while a kernel
// may still reference its buffers.
func (c *Context) ClearIoBuffers(b api.IoBase) error {
	if _, err := c.pool.Set(b); err != nil {
		return err
	}
	if c.stream.Work() == 0 {
		return c.pool.Release(b)
	}
	err := c.stream.EnqueueAlways("release", func() error {
		if err := c.pool.Release(b); err != nil {
			c.log.WithError(err).WithField(logfields.IoBase, b).Warn("Deferred io base release failed")
		}
		return nil
	})
	if err != nil {
		// A closed stream has drained.
		return c.pool.Release(b)
	}
	return nil
}

func (c *Context) UnwrapHostBuffer(h api.HostBuffer) ([]byte, error) { return c.pool.HostBytes(h) }

func (c *Context) UnwrapDeviceBuffer(d api.DeviceBuffer) (api.DevicePtr, error) {
	return c.pool.DevicePtr(d)
}

// transfer resolves the host slice and device address of [offset, offset+size)
// at enqueue time so stale handles fail synchronously.
func (c *Context) transfer(h api.HostBuffer, d api.DeviceBuffer, offset, size int) (api.HostBuffer, []byte, api.DevicePtr, error) {
	if offset < 0 || size < 0 || offset+size > h.Size || offset+size > d.Size {
		return h, nil, 0, fmt.Errorf("%w: transfer [%d,+%d) over %s / %s", api.ErrInvalidArgument, offset, size, h, d)
	}
	hb, err := c.pool.HostBytes(h)
	if err != nil {
		return h, nil, 0, err
	}
	dp, err := c.pool.DevicePtr(d)
	if err != nil {
		return h, nil, 0, err
	}
	sub := h
	sub.Offset += offset
	sub.Size = size
	return sub, hb[offset : offset+size], dp.Add(offset), nil
}

// EnqueueMemwriteOp copies host to device after all earlier operations.
func (c *Context) EnqueueMemwriteOp(h api.HostBuffer, d api.DeviceBuffer, offset, size int) error {
	sub, src, dst, err := c.transfer(h, d, offset, size)
	if err != nil {
		return err
	}
	return c.stream.Enqueue("memwrite", func() error {
		return c.backend.Memwrite(sub, src, dst)
	})
}

// EnqueueMemreadOp copies device to host after all earlier operations.
func (c *Context) EnqueueMemreadOp(h api.HostBuffer, d api.DeviceBuffer, offset, size int) error {
	sub, dst, src, err := c.transfer(h, d, offset, size)
	if err != nil {
		return err
	}
	return c.stream.Enqueue("memread", func() error {
		return c.backend.Memread(sub, dst, src)
	})
}

func (c *Context) ClearKernelArgs() { c.args.Clear() }

func (c *Context) PushKernelArg(arg api.KernelArg) error { return c.args.Push(arg) }

// EnqueueKernelLaunch moves the context to Running and queues the kernel
// with a copy of the staged arguments. A zero workgroup count in res is
// normalized to one in place.
func (c *Context) EnqueueKernelLaunch(k api.KernelHandle, res *api.ResourceParam) error {
	if res == nil {
		return fmt.Errorf("%w: nil resource parameters", api.ErrInvalidArgument)
	}
	if c.args.Len() == 0 {
		return api.ErrNoKernelArgs
	}
	if err := c.backend.CheckKernel(k); err != nil {
		return err
	}
	if !c.state.CompareAndSwap(int32(api.ContextIdle), int32(api.ContextRunning)) {
		return api.ErrContextBusy
	}
	res.Normalize()
	args := c.args.Snapshot()
	launch := *res
	err := c.stream.Enqueue("launch", func() error {
		defer c.state.Store(int32(api.ContextIdle))
		if err := c.backend.Launch(k, args, launch); err != nil {
			control.KernelErrors.WithLabelValues(c.typ.String()).Inc()
			return fmt.Errorf("kernel %s: %w", kernelName(k), err)
		}
		return nil
	})
	if err != nil {
		c.state.Store(int32(api.ContextIdle))
		return err
	}
	c.launches.Add(1)
	control.KernelLaunches.WithLabelValues(c.typ.String()).Inc()
	return nil
}

// EnqueueEventCallback queues fn to run once on the stream goroutine after
// everything enqueued before it. It runs on a faulted context too, so
// owners can always reclaim their io bases.
func (c *Context) EnqueueEventCallback(fn api.EventCallback, userArg any) error {
	if fn == nil {
		return fmt.Errorf("%w: nil callback", api.ErrInvalidArgument)
	}
	return c.stream.EnqueueAlways("callback", func() error {
		fn(c, userArg)
		return nil
	})
}

func (c *Context) Query() bool { return c.stream.Query() }

func (c *Context) Sync(ctx context.Context) error { return c.stream.Sync(ctx) }

// Close drains the stream and releases backend resources. Must not be
// called from a completion callback.
func (c *Context) Close() error {
	c.closed.Do(func() {
		c.stream.Close()
		c.closeErr = c.backend.Close()
		c.log.WithField("launches", c.launches.Load()).Debug("Compute context closed")
	})
	return c.closeErr
}

func kernelName(k api.KernelHandle) string {
	if k.Name != "" {
		return k.Name
	}
	return fmt.Sprintf("#%d", k.ID)
}
