// File: offload/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker loop: one per (core, device), draining a batch channel into an
// Offloader with backpressure.

package offload

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/element"
	"github.com/momentics/hioload-accel/internal/concurrency"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/sirupsen/logrus"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	ID int
	// CPU pins the worker thread when >= 0.
	CPU int
	// DrainTimeout bounds the wait for in-flight batches on exit.
	DrainTimeout time.Duration
	// OnDone observes every finished batch.
	OnDone DoneFunc
}

// WorkerStats is a snapshot of worker counters.
type WorkerStats struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	Retries   uint64
}

// Worker feeds batches of one element into one offloader.
type Worker struct {
	cfg WorkerConfig
	off *Offloader
	el  element.Element
	out element.Output
	log *logrus.Entry

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
}

// NewWorker builds a worker. CPU -1 leaves the thread unpinned.
func NewWorker(cfg WorkerConfig, off *Offloader, el element.Element, out element.Output) *Worker {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	return &Worker{
		cfg: cfg,
		off: off,
		el:  el,
		out: out,
		log: log.WithFields(logrus.Fields{
			logfields.WorkerID:   cfg.ID,
			logfields.Element:    el.Name(),
			logfields.DeviceType: off.Device().Type().String(),
		}),
	}
}

// Stats returns the current counters.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Submitted: w.submitted.Load(),
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
		Retries:   w.retries.Load(),
	}
}

// Run drains batches until the channel closes or ctx is done, then waits for
// in-flight batches. It returns ctx.Err() on cancellation.
func (w *Worker) Run(ctx context.Context, batches <-chan *element.Batch) error {
	if w.cfg.CPU >= 0 {
		if err := concurrency.PinCurrentThread(w.cfg.CPU); err != nil {
			w.log.WithError(err).Warn("CPU pinning failed")
		}
		defer concurrency.UnpinCurrentThread()
	}
	w.log.Debug("Worker started")
	defer w.drain()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-batches:
			if !ok {
				return nil
			}
			if err := w.submit(ctx, b); err != nil {
				return err
			}
		}
	}
}

// submit retries capacity errors with backoff. Any other error drops the
// batch.
func (w *Worker) submit(ctx context.Context, b *element.Batch) error {
	var bo concurrency.Backoff
	for {
		err := w.off.Submit(w.el, b, w.out, w.finished)
		if err == nil {
			w.submitted.Add(1)
			return nil
		}
		if !api.IsCapacity(err) {
			w.log.WithError(err).WithField(logfields.Size, len(b.Packets)).Warn("Batch dropped")
			for _, p := range b.Packets {
				p.Kill()
			}
			w.submitted.Add(1)
			w.finished(b, err)
			if errors.Is(err, api.ErrDeviceFaulted) || errors.Is(err, api.ErrClosed) {
				return err
			}
			return nil
		}
		w.retries.Add(1)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bo.Wait()
	}
}

func (w *Worker) finished(b *element.Batch, err error) {
	if err != nil {
		w.failed.Add(1)
	}
	w.completed.Add(1)
	if w.cfg.OnDone != nil {
		w.cfg.OnDone(b, err)
	}
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
	defer cancel()
	if err := w.off.Context().Sync(ctx); err != nil {
		w.log.WithError(err).Warn("Worker drain incomplete")
	}
	w.log.WithFields(logrus.Fields{
		"submitted": w.submitted.Load(),
		"completed": w.completed.Load(),
	}).Debug("Worker stopped")
}
