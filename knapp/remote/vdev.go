// File: knapp/remote/vdev.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package remote

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/engine"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/knapp/wire"
	"github.com/sirupsen/logrus"
)

// vdev is a slice of the coprocessor cores with one in-order data channel.
type vdev struct {
	id     uint64
	info   wire.VDevInfoParam
	srv    *Server
	pcores []int
	lcores []int
	lanes  int
	log    *logrus.Entry

	mu    sync.Mutex
	data  *wire.Conn
	fault error
	done  bool

	tasks atomic.Uint64
}

func newVDev(s *Server, id uint64, info wire.VDevInfoParam, pcores []int) *vdev {
	v := &vdev{
		id:     id,
		info:   info,
		srv:    s,
		pcores: pcores,
		lanes:  int(info.NumPCores * info.NumLCoresPerPCore),
		log:    log.WithField(logfields.VDev, id),
	}
	for _, p := range pcores {
		for ht := 0; ht < int(info.NumLCoresPerPCore); ht++ {
			v.lcores = append(v.lcores, wire.PCoreToLCore(p, ht))
		}
	}
	v.log.WithFields(logrus.Fields{
		"pcores": pcores,
		"lcores": v.lcores,
		"depth":  info.PipelineDepth,
	}).Info("Virtual device created")
	return v
}

func (v *vdev) attach(c *wire.Conn) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.data != nil || v.done {
		return false
	}
	v.data = c
	return true
}

func (v *vdev) close() {
	v.mu.Lock()
	v.done = true
	c := v.data
	v.mu.Unlock()
	if c != nil {
		c.Close()
	}
	v.log.WithField("tasks", v.tasks.Load()).Info("Virtual device destroyed")
}

func (v *vdev) setFault(err error) {
	v.mu.Lock()
	if v.fault == nil {
		v.fault = err
		v.log.WithError(err).Warn("Virtual device faulted")
	}
	v.mu.Unlock()
}

func (v *vdev) faultText(err error) string {
	if err != nil {
		return err.Error()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fault != nil {
		return v.fault.Error()
	}
	return ""
}

func (v *vdev) serveData(c *wire.Conn) {
	for {
		var f wire.DataFrame
		if err := c.Recv(&f); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				v.log.WithError(err).Debug("Data channel closed")
			}
			return
		}
		if err := v.apply(c, &f); err != nil {
			v.log.WithError(err).Warn("Data channel protocol error")
			return
		}
	}
}

// apply executes one frame. Frames are applied strictly in arrival order.
func (v *vdev) apply(c *wire.Conn, f *wire.DataFrame) error {
	mem := v.srv.mem
	switch f.Kind {
	case wire.FrameRMAWrite:
		dst, err := mem.Resolve(api.DevicePtr(f.Addr), len(f.Data))
		if err != nil {
			v.setFault(fmt.Errorf("rma write: %w", err))
			return nil
		}
		copy(dst, f.Data)
		return nil

	case wire.FrameRMARead:
		if f.Copy == nil {
			return fmt.Errorf("%w: rma read without destination", api.ErrInvalidArgument)
		}
		if err := c.Send(&wire.DataFrame{Kind: wire.FramePoll, Slot: f.Slot, State: uint64(api.PollCopyPending)}); err != nil {
			return err
		}
		src, err := mem.Resolve(api.DevicePtr(f.Addr), int(f.Copy.Size))
		if err == nil {
			err = c.Send(&wire.DataFrame{Kind: wire.FrameRMAWrite, Window: f.Copy.BufferID, Offset: f.Copy.Offset, Data: src})
			if err != nil {
				return err
			}
		}
		return c.Send(&wire.DataFrame{Kind: wire.FramePoll, Slot: f.Slot, State: uint64(api.PollOffloadComplete), Error: v.faultText(err)})

	case wire.FrameTask:
		if f.Task == nil {
			return fmt.Errorf("%w: task frame without task", api.ErrInvalidArgument)
		}
		err := v.run(f.Task)
		return c.Send(&wire.DataFrame{Kind: wire.FramePoll, Slot: f.Slot, State: uint64(api.PollOffloadComplete), Error: v.faultText(err)})

	case wire.FrameFence:
		return c.Send(&wire.DataFrame{Kind: wire.FrameFenceAck, Seq: f.Seq, Error: v.faultText(nil)})
	}
	return fmt.Errorf("%w: unexpected frame %s", api.ErrInvalidArgument, f.Kind)
}

func (v *vdev) run(t *wire.TaskItem) error {
	fn, ok := v.srv.kernels.Lookup(t.KernelID)
	if !ok {
		return fmt.Errorf("%w: kernel %d", api.ErrNotFound, t.KernelID)
	}
	args, err := t.KernelArgs()
	if err != nil {
		return err
	}
	v.tasks.Add(1)
	if err := engine.RunKernel(v.srv.mem, fn, args, t.Resource(), v.lanes); err != nil {
		return fmt.Errorf("task %d: %w", t.TaskID, err)
	}
	return nil
}
