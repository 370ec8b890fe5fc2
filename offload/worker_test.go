// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package offload

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/element"
	"github.com/momentics/hioload-accel/kernels"
)

func TestWorkerDrainsWithBackpressure(t *testing.T) {
	cfg := testConfig()
	cfg.IoBaseCount = 1
	dev, ctx := openContext(t, api.DeviceGPU, cfg)
	el := newTagElement(kernels.Builtin(kernels.IDCopy), api.DeviceGPU)
	sink := element.NewPortSink()
	var done atomic.Int32
	w := NewWorker(WorkerConfig{
		ID:  1,
		CPU: -1,
		OnDone: func(_ *element.Batch, err error) {
			if err != nil {
				t.Error(err)
			}
			done.Add(1)
		},
	}, New(dev, ctx), el, sink)

	const batches = 20
	ch := make(chan *element.Batch, batches)
	for i := 0; i < batches; i++ {
		ch <- tagBatch(50)
	}
	close(ch)
	if err := w.Run(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	if done.Load() != batches {
		t.Fatalf("%d batches finished", done.Load())
	}
	st := w.Stats()
	if st.Submitted != batches || st.Completed != batches || st.Failed != 0 {
		t.Fatalf("stats %+v", st)
	}
	if sink.Total() != batches*45 {
		t.Fatalf("%d packets pushed", sink.Total())
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	dev, ctx := openContext(t, api.DeviceCPU, testConfig())
	w := NewWorker(WorkerConfig{CPU: 0, DrainTimeout: time.Second}, New(dev, ctx), &countElement{}, element.NewPortSink())
	cctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(cctx, make(chan *element.Batch)) }()
	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerSkipsOversizedBatch(t *testing.T) {
	cfg := testConfig()
	cfg.IoBaseSize = 4096
	dev, ctx := openContext(t, api.DeviceGPU, cfg)
	el := newTagElement(kernels.Builtin(kernels.IDCopy), api.DeviceGPU)
	sink := element.NewPortSink()
	var failed atomic.Int32
	w := NewWorker(WorkerConfig{
		CPU: -1,
		OnDone: func(_ *element.Batch, err error) {
			if err != nil {
				failed.Add(1)
			}
		},
	}, New(dev, ctx), el, sink)

	ch := make(chan *element.Batch, 2)
	ch <- tagBatch(5000)
	ch <- tagBatch(50)
	close(ch)
	rc, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.Run(rc, ch); err != nil {
		t.Fatal(err)
	}
	st := w.Stats()
	if failed.Load() != 1 || st.Failed != 1 || st.Completed != 2 {
		t.Fatalf("stats %+v", st)
	}
	if st.Retries != 0 {
		t.Fatalf("oversized batch retried %d times", st.Retries)
	}
	if sink.Total() != 45 {
		t.Fatalf("%d packets pushed", sink.Total())
	}
}
