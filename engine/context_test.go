// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/pool"
)

// recordingBackend executes transfers on a MemSpace and records launches.
type recordingBackend struct {
	mem *pool.MemSpace

	mu       sync.Mutex
	launches [][]api.KernelArg
	params   []api.ResourceParam
	gate     chan struct{}
	fail     error
}

func (b *recordingBackend) Memwrite(h api.HostBuffer, src []byte, dst api.DevicePtr) error {
	d, err := b.mem.Resolve(dst, len(src))
	if err != nil {
		return err
	}
	copy(d, src)
	return nil
}

func (b *recordingBackend) Memread(h api.HostBuffer, dst []byte, src api.DevicePtr) error {
	s, err := b.mem.Resolve(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, s)
	return nil
}

func (b *recordingBackend) Launch(k api.KernelHandle, args []api.KernelArg, res api.ResourceParam) error {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	b.launches = append(b.launches, args)
	b.params = append(b.params, res)
	fail := b.fail
	b.mu.Unlock()
	if fail != nil {
		return fail
	}
	if k.Func != nil {
		return RunKernel(b.mem, k.Func, args, res, 1)
	}
	return nil
}

func (b *recordingBackend) CheckKernel(k api.KernelHandle) error { return nil }
func (b *recordingBackend) Close() error { return nil }

func newTestContext(t *testing.T, id int, backend *recordingBackend) *Context {
	t.Helper()
	if backend.mem == nil {
		backend.mem = pool.NewMemSpace()
	}
	p, err := pool.NewIoBasePool(pool.IoBaseConfig{Count: 2, Size: 4096, Align: 8},
		func(b api.IoBase, k pool.ArenaKind, size int, host *pool.Arena) ([]byte, api.DevicePtr, error) {
			mem := make([]byte, size)
			if !k.IsDevice() {
				return mem, 0, nil
			}
			ptr, err := backend.mem.Register(mem)
			return mem, ptr, err
		})
	if err != nil {
		t.Fatal(err)
	}
	c := NewContext(id, api.DeviceCPU, p, backend)
	t.Cleanup(func() { c.Close() })
	return c
}

func syncCtx(t *testing.T, c *Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Sync(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestContext_LaunchRequiresArgs(t *testing.T) {
	c := newTestContext(t, 0, &recordingBackend{})
	err := c.EnqueueKernelLaunch(api.KernelHandle{Name: "noop"}, &api.ResourceParam{NumWorkItems: 1})
	if !errors.Is(err, api.ErrNoKernelArgs) {
		t.Fatalf("expected ErrNoKernelArgs, got %v", err)
	}
	if c.State() != api.ContextIdle {
		t.Fatal("context left idle state")
	}
}

func TestContext_ArgsInPushOrderAndSnapshot(t *testing.T) {
	b := &recordingBackend{}
	c := newTestContext(t, 0, b)
	for _, v := range []uint32{1, 2, 3} {
		if err := c.PushKernelArg(api.Uint32Arg(v)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.EnqueueKernelLaunch(api.KernelHandle{Name: "k"}, &api.ResourceParam{NumWorkItems: 3}); err != nil {
		t.Fatal(err)
	}
	c.ClearKernelArgs()
	_ = c.PushKernelArg(api.Uint32Arg(42))
	syncCtx(t, c)

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.launches) != 1 || len(b.launches[0]) != 3 {
		t.Fatalf("launch args %v", b.launches)
	}
	for i, want := range []uint32{1, 2, 3} {
		if got, _ := b.launches[0][i].Uint32(); got != want {
			t.Fatalf("arg %d = %d want %d", i, got, want)
		}
	}
}

func TestContext_WorkgroupNormalization(t *testing.T) {
	b := &recordingBackend{}
	c := newTestContext(t, 0, b)
	_ = c.PushKernelArg(api.Uint32Arg(0))

	zero := api.ResourceParam{NumWorkItems: 8, NumThreadsPerWorkgroup: 8}
	if err := c.EnqueueKernelLaunch(api.KernelHandle{}, &zero); err != nil {
		t.Fatal(err)
	}
	if zero.NumWorkgroups != 1 {
		t.Fatalf("zero workgroups normalized to %d", zero.NumWorkgroups)
	}
	syncCtx(t, c)
	five := api.ResourceParam{NumWorkItems: 40, NumWorkgroups: 5, NumThreadsPerWorkgroup: 8}
	if err := c.EnqueueKernelLaunch(api.KernelHandle{}, &five); err != nil {
		t.Fatal(err)
	}
	syncCtx(t, c)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.params[0].NumWorkgroups != 1 || b.params[1].NumWorkgroups != 5 {
		t.Fatalf("device saw workgroups %d,%d", b.params[0].NumWorkgroups, b.params[1].NumWorkgroups)
	}
}

func TestContext_BusyWhileRunning(t *testing.T) {
	b := &recordingBackend{gate: make(chan struct{})}
	c := newTestContext(t, 0, b)
	_ = c.PushKernelArg(api.Uint32Arg(0))
	if err := c.EnqueueKernelLaunch(api.KernelHandle{}, &api.ResourceParam{NumWorkItems: 1}); err != nil {
		t.Fatal(err)
	}
	if c.State() != api.ContextRunning {
		t.Fatal("expected running state")
	}
	if err := c.EnqueueKernelLaunch(api.KernelHandle{}, &api.ResourceParam{NumWorkItems: 1}); !errors.Is(err, api.ErrContextBusy) {
		t.Fatalf("second launch: %v", err)
	}
	close(b.gate)
	syncCtx(t, c)
	if c.State() != api.ContextIdle {
		t.Fatal("expected idle after retirement")
	}
}

func TestContext_ClearWhileRunningIsDeferred(t *testing.T) {
	b := &recordingBackend{gate: make(chan struct{})}
	c := newTestContext(t, 0, b)
	base := c.AllocIoBase()
	if !base.Valid() {
		t.Fatal("no io base")
	}
	if _, _, err := c.AllocInputBuffer(base, 64); err != nil {
		t.Fatal(err)
	}
	_ = c.PushKernelArg(api.Uint32Arg(0))
	if err := c.EnqueueKernelLaunch(api.KernelHandle{}, &api.ResourceParam{NumWorkItems: 1}); err != nil {
		t.Fatal(err)
	}
	if err := c.ClearIoBuffers(base); err != nil {
		t.Fatal(err)
	}
	if c.State() != api.ContextRunning {
		t.Fatal("expected running state")
	}
	other := c.AllocIoBase()
	if other == base {
		t.Fatalf("io base %d handed out while its kernel runs", base)
	}
	if again := c.AllocIoBase(); again.Valid() {
		t.Fatalf("io base %d handed out while its kernel runs", again)
	}
	close(b.gate)
	syncCtx(t, c)
	if got := c.Pool().Available(); got != 1 {
		t.Fatalf("%d io bases free after retirement", got)
	}
	if next := c.AllocIoBase(); next != base {
		t.Fatalf("realloc got %d want %d", next, base)
	}
}

func TestContext_CallbackOrderAndOnce(t *testing.T) {
	b := &recordingBackend{gate: make(chan struct{})}
	c := newTestContext(t, 0, b)
	_ = c.PushKernelArg(api.Uint32Arg(0))
	if err := c.EnqueueKernelLaunch(api.KernelHandle{}, &api.ResourceParam{NumWorkItems: 1}); err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		if err := c.EnqueueEventCallback(func(cc api.ComputeContext, arg any) {
			if cc.State() != api.ContextIdle {
				t.Error("callback ran before launch retired")
			}
			mu.Lock()
			order = append(order, arg.(int))
			mu.Unlock()
		}, i); err != nil {
			t.Fatal(err)
		}
	}
	mu.Lock()
	if len(order) != 0 {
		t.Fatal("callback ran inline")
	}
	mu.Unlock()
	close(b.gate)
	syncCtx(t, c)
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("callback order %v", order)
	}
}

func TestContext_MemRoundTrip(t *testing.T) {
	c := newTestContext(t, 0, &recordingBackend{})
	base := c.AllocIoBase()
	in, din, err := c.AllocInputBuffer(base, 16)
	if err != nil {
		t.Fatal(err)
	}
	out, dout, err := c.AllocOutputBuffer(base, 16)
	if err != nil {
		t.Fatal(err)
	}
	src, _ := c.UnwrapHostBuffer(in)
	copy(src, "0123456789abcdef")

	// Copy device input to device output through a kernel, then read back.
	pin, _ := c.UnwrapDeviceBuffer(din)
	pout, _ := c.UnwrapDeviceBuffer(dout)
	_ = c.PushKernelArg(api.PtrArg(pin))
	_ = c.PushKernelArg(api.PtrArg(pout))
	copyKernel := func(mem api.DeviceMemory, args []api.KernelArg, r api.WorkRange) error {
		s, _ := args[0].Ptr()
		d, _ := args[1].Ptr()
		sb, err := mem.Resolve(s.Add(r.Begin), r.Len())
		if err != nil {
			return err
		}
		db, err := mem.Resolve(d.Add(r.Begin), r.Len())
		if err != nil {
			return err
		}
		copy(db, sb)
		return nil
	}
	if err := c.EnqueueMemwriteOp(in, din, 0, 16); err != nil {
		t.Fatal(err)
	}
	if err := c.EnqueueKernelLaunch(api.KernelHandle{Func: copyKernel},
		&api.ResourceParam{NumWorkItems: 16, NumWorkgroups: 4, NumThreadsPerWorkgroup: 4}); err != nil {
		t.Fatal(err)
	}
	if err := c.EnqueueMemreadOp(out, dout, 0, 16); err != nil {
		t.Fatal(err)
	}
	syncCtx(t, c)
	got, _ := c.UnwrapHostBuffer(out)
	if string(got) != "0123456789abcdef" {
		t.Fatalf("round trip produced %q", got)
	}
	if err := c.ClearIoBuffers(base); err != nil {
		t.Fatal(err)
	}
	if err := c.EnqueueMemwriteOp(in, din, 0, 16); !errors.Is(err, api.ErrInvalidIoBase) && !errors.Is(err, api.ErrStaleHandle) {
		t.Fatalf("stale handle accepted: %v", err)
	}
}

func TestContext_FaultIsSticky(t *testing.T) {
	b := &recordingBackend{fail: errors.New("device lost")}
	c := newTestContext(t, 0, b)
	_ = c.PushKernelArg(api.Uint32Arg(0))
	if err := c.EnqueueKernelLaunch(api.KernelHandle{}, &api.ResourceParam{NumWorkItems: 1}); err != nil {
		t.Fatal(err)
	}
	fired := make(chan struct{})
	if err := c.EnqueueEventCallback(func(api.ComputeContext, any) { close(fired) }, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("callback not delivered on faulted context")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Sync(ctx); err == nil {
		t.Fatal("sync reported healthy stream")
	}
	if err := c.EnqueueKernelLaunch(api.KernelHandle{}, &api.ResourceParam{NumWorkItems: 1}); !errors.Is(err, api.ErrDeviceFaulted) {
		t.Fatalf("launch on faulted context: %v", err)
	}
	if c.State() != api.ContextIdle {
		t.Fatal("faulted launch left context running")
	}
}

func TestContext_ArgsIsolatedAcrossContexts(t *testing.T) {
	var wg sync.WaitGroup
	for id := 0; id < 2; id++ {
		b := &recordingBackend{}
		c := newTestContext(t, id, b)
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.ClearKernelArgs()
				_ = c.PushKernelArg(api.Uint32Arg(uint32(id)))
				_ = c.PushKernelArg(api.Uint32Arg(uint32(i)))
				for c.EnqueueKernelLaunch(api.KernelHandle{}, &api.ResourceParam{NumWorkItems: 1}) != nil {
					time.Sleep(10 * time.Microsecond)
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Sync(ctx)
			b.mu.Lock()
			defer b.mu.Unlock()
			for n, args := range b.launches {
				owner, _ := args[0].Uint32()
				seq, _ := args[1].Uint32()
				if owner != uint32(id) || seq != uint32(n) {
					t.Errorf("context %d launch %d saw args (%d,%d)", id, n, owner, seq)
					return
				}
			}
		}(id)
	}
	wg.Wait()
}
