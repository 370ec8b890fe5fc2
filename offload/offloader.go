// File: offload/offloader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Batch offload of one element on one compute context.

package offload

import (
	"fmt"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/element"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/sirupsen/logrus"
)

// InlineDevice labels batches that ran on the CPU Process path.
const InlineDevice = "inline"

// DoneFunc is called once per submitted batch after every live packet has
// been pushed or killed. err is the device fault, if any; on a fault every
// offloaded packet is killed.
type DoneFunc func(b *element.Batch, err error)

// Offloader submits batches to a single context. It is owned by one worker.
type Offloader struct {
	dev api.ComputeDevice
	ctx api.ComputeContext
	log *logrus.Entry
}

// New binds an offloader to ctx, which must belong to dev.
func New(dev api.ComputeDevice, ctx api.ComputeContext) *Offloader {
	return &Offloader{
		dev: dev,
		ctx: ctx,
		log: log.WithFields(logrus.Fields{
			logfields.DeviceType: dev.Type().String(),
			logfields.DeviceID:   dev.ID(),
			logfields.ContextID:  ctx.ID(),
		}),
	}
}

// Device returns the bound device.
func (o *Offloader) Device() api.ComputeDevice { return o.dev }

// Context returns the bound context.
func (o *Offloader) Context() api.ComputeContext { return o.ctx }

// job is the state of one batch between enqueue and completion.
type job struct {
	el    element.Offloadable
	batch *element.Batch
	out   element.Output
	done  DoneFunc
	base  api.IoBase
	live  []int
	hout  api.HostBuffer
	osize int
}

// Submit runs el over b. Elements without a handler for the bound device
// type run inline and done is called before Submit returns. Otherwise the
// batch is staged and launched asynchronously; done runs on the context
// stream goroutine.
//
// A capacity error (see api.IsCapacity) leaves b untouched so the caller
// can retry it later.
func (o *Offloader) Submit(el element.Element, b *element.Batch, out element.Output, done DoneFunc) error {
	if b == nil || out == nil {
		return fmt.Errorf("%w: nil batch or output", api.ErrInvalidArgument)
	}
	off, ok := el.(element.Offloadable)
	if !ok {
		o.inline(el, b, out, done)
		return nil
	}
	compute, ok := off.Handlers().Lookup(o.dev.Type())
	if !ok {
		o.inline(el, b, out, done)
		return nil
	}
	db := off.Datablock()
	if db.InputSize <= 0 || db.OutputSize <= 0 {
		return fmt.Errorf("%w: element %s datablock %+v", api.ErrInvalidArgument, el.Name(), db)
	}
	if err := o.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", api.ErrDeviceFaulted, err)
	}
	if o.ctx.State() == api.ContextRunning {
		return api.ErrContextBusy
	}
	if err := off.Handlers().InitDevice(o.dev); err != nil {
		return fmt.Errorf("init %s on %s: %w", el.Name(), o.dev.Type(), err)
	}

	j := &job{el: off, batch: b, out: out, done: done, osize: db.OutputSize}
	for i, p := range b.Packets {
		if !p.IsDead() {
			j.live = append(j.live, i)
		}
	}
	if len(j.live) == 0 {
		finish(done, b, nil)
		return nil
	}

	j.base = o.ctx.AllocIoBase()
	if !j.base.Valid() {
		return fmt.Errorf("%w: no free io base on context %d", api.ErrResourceExhausted, o.ctx.ID())
	}
	if err := o.stage(j, compute, db); err != nil {
		o.release(j.base)
		return err
	}
	return nil
}

// stage fills the input records and enqueues the transfer, launch and
// completion.
func (o *Offloader) stage(j *job, compute element.ComputeHandler, db element.Datablock) error {
	n := len(j.live)
	hin, din, err := o.ctx.AllocInputBuffer(j.base, n*db.InputSize)
	if err != nil {
		return err
	}
	hout, dout, err := o.ctx.AllocOutputBuffer(j.base, n*db.OutputSize)
	if err != nil {
		return err
	}
	j.hout = hout
	in, err := o.ctx.UnwrapHostBuffer(hin)
	if err != nil {
		return err
	}
	for k, i := range j.live {
		rec := in[k*db.InputSize : (k+1)*db.InputSize]
		j.el.Preproc(j.batch.Port, j.batch.Packets[i], rec)
	}
	pin, err := o.ctx.UnwrapDeviceBuffer(din)
	if err != nil {
		return err
	}
	pout, err := o.ctx.UnwrapDeviceBuffer(dout)
	if err != nil {
		return err
	}

	if err := o.ctx.EnqueueMemwriteOp(hin, din, 0, hin.Size); err != nil {
		return err
	}
	o.ctx.ClearKernelArgs()
	for _, a := range []api.KernelArg{api.PtrArg(pin), api.PtrArg(pout), api.Uint32Arg(uint32(n))} {
		if err := o.ctx.PushKernelArg(a); err != nil {
			return err
		}
	}
	ws := j.el.DesiredWorkgroupSize(o.dev.Type())
	if ws < 1 {
		ws = 1
	}
	res := &api.ResourceParam{
		NumWorkItems:           uint32(n),
		NumWorkgroups:          uint32((n + ws - 1) / ws),
		NumThreadsPerWorkgroup: uint32(ws),
	}
	if err := compute(o.dev, o.ctx, res); err != nil {
		return fmt.Errorf("compute %s: %w", j.el.Name(), err)
	}
	if err := o.ctx.EnqueueMemreadOp(hout, dout, 0, hout.Size); err != nil {
		return err
	}
	if err := o.ctx.EnqueueEventCallback(o.complete, j); err != nil {
		return err
	}
	return nil
}

// release returns an io base whose batch was not fully enqueued. The
// context orders the release behind any operation already queued on it.
func (o *Offloader) release(base api.IoBase) {
	if err := o.ctx.ClearIoBuffers(base); err != nil {
		o.log.WithError(err).WithField(logfields.IoBase, base).Warn("Io base release failed")
	}
}

// complete runs on the stream goroutine after the result memread.
func (o *Offloader) complete(ctx api.ComputeContext, arg any) {
	j := arg.(*job)
	fault := ctx.Err()
	var results []byte
	if fault == nil {
		var err error
		if results, err = ctx.UnwrapHostBuffer(j.hout); err != nil {
			fault = err
		}
	}
	dropped := 0
	for k, i := range j.live {
		p := j.batch.Packets[i]
		if p.IsDead() {
			dropped++
			continue
		}
		if fault != nil {
			p.Kill()
			dropped++
			continue
		}
		j.el.Postproc(j.batch.Port, results[k*j.osize:(k+1)*j.osize], p, j.out)
		if p.IsDead() {
			dropped++
		}
	}
	if err := ctx.ClearIoBuffers(j.base); err != nil {
		o.log.WithError(err).WithField(logfields.IoBase, j.base).Warn("Io base release failed")
	}
	name := j.el.Name()
	if dropped > 0 {
		control.PacketsDropped.WithLabelValues(name).Add(float64(dropped))
	}
	if fault != nil {
		o.log.WithError(fault).WithFields(logrus.Fields{
			logfields.Element: name,
			logfields.Size:    len(j.live),
		}).Warn("Offloaded batch failed")
	} else {
		control.BatchesOffloaded.WithLabelValues(name, o.dev.Type().String()).Inc()
	}
	finish(j.done, j.batch, fault)
}

// inline runs Process over every live packet.
func (o *Offloader) inline(el element.Element, b *element.Batch, out element.Output, done DoneFunc) {
	dropped := 0
	for _, p := range b.Packets {
		if p.IsDead() {
			continue
		}
		el.Process(b.Port, p, out)
		if p.IsDead() {
			dropped++
		}
	}
	if dropped > 0 {
		control.PacketsDropped.WithLabelValues(el.Name()).Add(float64(dropped))
	}
	control.BatchesOffloaded.WithLabelValues(el.Name(), InlineDevice).Inc()
	finish(done, b, nil)
}

func finish(done DoneFunc, b *element.Batch, err error) {
	if done != nil {
		done(b, err)
	}
}
