// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package cpu

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/engine"
	"github.com/momentics/hioload-accel/kernels"
)

func testConfig() *control.Config {
	cfg := control.DefaultConfig()
	cfg.IoBaseCount = 2
	cfg.IoBaseSize = 64 << 10
	return cfg
}

func TestRegistered(t *testing.T) {
	dev, err := engine.Open(api.DeviceCPU, 0, 0, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	if dev.Type() != api.DeviceCPU {
		t.Fatalf("type %s", dev.Type())
	}
}

func TestDeviceBufferAliasesHost(t *testing.T) {
	dev, _ := Open(0, 0, testConfig())
	defer dev.Close()
	h, err := dev.AllocHostBuffer(128, api.MemFlagsNone)
	if err != nil {
		t.Fatal(err)
	}
	d, err := dev.AllocDeviceBuffer(128, api.MemReadOnly, h)
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := dev.UnwrapHostBuffer(h)
	hb[5] = 42
	ptr, _ := dev.UnwrapDeviceBuffer(d)
	mem, _ := dev.Memory().Resolve(ptr, 128)
	if mem[5] != 42 {
		t.Fatal("device buffer does not alias host buffer")
	}
	if err := dev.Memwrite(h, d, 0, 128); err != nil {
		t.Fatal(err)
	}
}

func TestContextCopyKernel(t *testing.T) {
	dev, _ := Open(0, 0, testConfig())
	defer dev.Close()
	ctx, err := dev.NewContext(0)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	b := ctx.AllocIoBase()
	if !b.Valid() {
		t.Fatal("no io base")
	}
	const n = 16
	hin, din, _ := ctx.AllocInputBuffer(b, n*4)
	hout, dout, _ := ctx.AllocOutputBuffer(b, n*4)
	in, _ := ctx.UnwrapHostBuffer(hin)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(in[i*4:], uint32(i*7))
	}
	pin, _ := ctx.UnwrapDeviceBuffer(din)
	pout, _ := ctx.UnwrapDeviceBuffer(dout)

	if err := ctx.EnqueueMemwriteOp(hin, din, 0, n*4); err != nil {
		t.Fatal(err)
	}
	ctx.ClearKernelArgs()
	for _, a := range []api.KernelArg{api.PtrArg(pin), api.PtrArg(pout), api.Uint32Arg(n), api.Uint32Arg(4)} {
		ctx.PushKernelArg(a)
	}
	res := api.ResourceParam{NumWorkItems: n, NumThreadsPerWorkgroup: 4}
	if err := ctx.EnqueueKernelLaunch(api.KernelHandle{ID: kernels.IDCopy}, &res); err != nil {
		t.Fatal(err)
	}
	if res.NumWorkgroups != 1 {
		t.Fatalf("workgroups %d", res.NumWorkgroups)
	}
	if err := ctx.EnqueueMemreadOp(hout, dout, 0, n*4); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	ctx.EnqueueEventCallback(func(api.ComputeContext, any) { close(done) }, nil)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not run")
	}
	sc, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctx.Sync(sc); err != nil {
		t.Fatal(err)
	}
	out, _ := ctx.UnwrapHostBuffer(hout)
	for i := 0; i < n; i++ {
		if v := binary.LittleEndian.Uint32(out[i*4:]); v != uint32(i*7) {
			t.Fatalf("record %d = %d", i, v)
		}
	}
	if err := ctx.ClearIoBuffers(b); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownKernelRejected(t *testing.T) {
	dev, _ := Open(0, 0, testConfig())
	defer dev.Close()
	ctx, _ := dev.NewContext(1)
	defer ctx.Close()
	ctx.PushKernelArg(api.Uint32Arg(1))
	res := api.ResourceParam{}
	if err := ctx.EnqueueKernelLaunch(api.KernelHandle{ID: 77}, &res); err == nil {
		t.Fatal("unknown kernel accepted")
	}
	if ctx.State() != api.ContextIdle {
		t.Fatal("rejected launch left context running")
	}
}
