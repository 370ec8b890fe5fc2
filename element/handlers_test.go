// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package element

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/momentics/hioload-accel/api"
)

type stubDevice struct {
	api.ComputeDevice
	typ api.DeviceType
}

func (d *stubDevice) Type() api.DeviceType { return d.typ }

func noopCompute(api.ComputeDevice, api.ComputeContext, *api.ResourceParam) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	var h HandlerSet
	if err := h.Register(api.DeviceGPU, nil, noopCompute); err != nil {
		t.Fatal(err)
	}
	if !h.Has(api.DeviceGPU) || h.Has(api.DeviceKnapp) || h.Has(api.DeviceType(9)) {
		t.Fatal("lookup mismatch")
	}
	if err := h.Register(api.DeviceGPU, nil, noopCompute); !errors.Is(err, api.ErrAlreadyExists) {
		t.Fatalf("duplicate: %v", err)
	}
	if err := h.Register(api.DeviceCPU, nil, nil); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("nil compute: %v", err)
	}
	if types := h.Types(); len(types) != 1 || types[0] != api.DeviceGPU {
		t.Fatalf("types %v", types)
	}
}

func TestInitDeviceRunsOncePerDevice(t *testing.T) {
	var h HandlerSet
	var calls atomic.Int32
	h.Register(api.DeviceGPU, func(api.ComputeDevice) error {
		calls.Add(1)
		return nil
	}, noopCompute)
	a, b := &stubDevice{typ: api.DeviceGPU}, &stubDevice{typ: api.DeviceGPU}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.InitDevice(a)
		}()
	}
	wg.Wait()
	h.InitDevice(b)
	if calls.Load() != 2 {
		t.Fatalf("init ran %d times", calls.Load())
	}
	if err := h.InitDevice(&stubDevice{typ: api.DeviceKnapp}); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("unregistered type: %v", err)
	}
}

func TestInitErrorIsSticky(t *testing.T) {
	var h HandlerSet
	boom := errors.New("boom")
	h.Register(api.DeviceCPU, func(api.ComputeDevice) error { return boom }, noopCompute)
	d := &stubDevice{typ: api.DeviceCPU}
	if err := h.InitDevice(d); !errors.Is(err, boom) {
		t.Fatal(err)
	}
	if err := h.InitDevice(d); !errors.Is(err, boom) {
		t.Fatal(err)
	}
}

func TestBatchLive(t *testing.T) {
	b := NewBatch(1, []byte{1}, []byte{2}, []byte{3})
	b.Packets[1].Kill()
	if b.Live() != 2 || b.Port != 1 {
		t.Fatalf("live %d", b.Live())
	}
	s := NewPortSink()
	OutputFunc(s.Push).Push(2, b.Packets[0])
	if s.Total() != 1 || len(s.Port(2)) != 1 {
		t.Fatal("sink")
	}
}
