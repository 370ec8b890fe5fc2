// File: engine/knapp/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package knapp

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/engine"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/knapp/wire"
	"github.com/momentics/hioload-accel/pool"
)

// vdevBackend runs a context on its own virtual device. Host arenas are
// registered as RMA windows; device arenas are remote allocations.
type vdevBackend struct {
	link    *link
	alloc   pool.HostAllocator
	timeout time.Duration
	nextID  atomic.Uint32

	remote []api.DevicePtr
	host   [][]byte
}

func newContext(d *Device, ctxID int) (api.ComputeContext, error) {
	kc := d.cfg.Knapp
	depth := d.cfg.PipelineDepth
	if depth > wire.MaxPipelineDepth {
		depth = wire.MaxPipelineDepth
	}
	l := d.Log.WithField(logfields.ContextID, ctxID)
	lk, err := openLink(d.master, kc, linkShape{
		pcores:   kc.PCoresPerVDev,
		lcores:   kc.LCoresPerPCore,
		depth:    depth,
		ctrlPort: localPort(kc.HostCtrlPortBase, ctxID),
		dataPort: localPort(kc.HostDataPortBase, ctxID),
	}, l)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeTransport, "coprocessor context", err).
			WithContext(logfields.ContextID, ctxID)
	}
	b := &vdevBackend{link: lk, alloc: d.alloc, timeout: kc.PollTimeout}
	p, err := pool.NewIoBasePool(pool.IoBaseConfig{
		Count: d.cfg.IoBaseCount,
		Size:  d.cfg.IoBaseSize,
		Align: d.cfg.IoBaseAlign,
	}, b.backing(d.NUMANode()))
	if err != nil {
		b.Close()
		return nil, api.WrapError(api.ErrCodeTransport, "coprocessor context io bases", err).
			WithContext(logfields.ContextID, ctxID)
	}
	return engine.NewContext(ctxID, api.DeviceKnapp, p, b), nil
}

// Handle returns the remote vdev handle.
func (b *vdevBackend) Handle() uint64 { return b.link.handle }

// Ring exposes the poll ring.
func (b *vdevBackend) Ring() *PollRing { return b.link.ring }

func (b *vdevBackend) backing(node int) pool.Backing {
	return func(base api.IoBase, k pool.ArenaKind, size int, _ *pool.Arena) ([]byte, api.DevicePtr, error) {
		if k.IsDevice() {
			p, err := b.link.allocate(size)
			if err != nil {
				return nil, 0, err
			}
			b.remote = append(b.remote, p)
			return nil, p, nil
		}
		mem, err := b.alloc.Alloc(size, node)
		if err != nil {
			return nil, 0, err
		}
		b.host = append(b.host, mem)
		b.link.data.RegisterWindow(pool.ArenaID(base, k), mem)
		return mem, 0, nil
	}
}

func (b *vdevBackend) Memwrite(_ api.HostBuffer, src []byte, dst api.DevicePtr) error {
	return b.link.data.Write(dst, src)
}

// Memread asks the remote to write into the host arena that h belongs to.
func (b *vdevBackend) Memread(h api.HostBuffer, dst []byte, src api.DevicePtr) error {
	return b.link.data.Read(src, len(dst), h.Arena, h.Offset, b.timeout)
}

func (b *vdevBackend) CheckKernel(k api.KernelHandle) error {
	if k.ID < 0 {
		return fmt.Errorf("%w: kernel %q has no remote id", api.ErrNotSupported, k.Name)
	}
	return nil
}

func (b *vdevBackend) Launch(k api.KernelHandle, args []api.KernelArg, res api.ResourceParam) error {
	return b.link.data.Task(wire.NewTaskItem(b.nextID.Add(1), k.ID, args, res), b.timeout)
}

func (b *vdevBackend) Close() error {
	var first error
	for _, p := range b.remote {
		if err := b.link.ctrl.Free(p); err != nil && first == nil {
			first = err
		}
	}
	b.remote = nil
	if err := b.link.close(); err != nil && first == nil {
		first = err
	}
	for _, m := range b.host {
		if err := b.alloc.Free(m); err != nil && first == nil {
			first = err
		}
	}
	b.host = nil
	return first
}

var _ engine.ContextBackend = (*vdevBackend)(nil)
