// File: engine/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-order execution stream. Every context owns one; its goroutine runs
// transfers, kernels and completion callbacks strictly in enqueue order.

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/internal/concurrency"
)

type streamOp struct {
	name string
	fn   func() error
	// always ops run even after the stream has faulted.
	always bool
}

// Stream is a single-consumer FIFO of device operations.
type Stream struct {
	name    string
	mu      sync.Mutex
	cond    *sync.Cond
	ops     *queue.Queue
	pending int
	work    int
	err     error
	closed  bool
	done    chan struct{}
	retired uint64
}

// NewStream starts a stream goroutine.
func NewStream(name string) *Stream {
	s := &Stream{
		name: name,
		ops:  queue.New(),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Enqueue appends an operation. It fails once the stream has faulted.
func (s *Stream) Enqueue(name string, fn func() error) error {
	return s.enqueue(streamOp{name: name, fn: fn})
}

// EnqueueAlways appends an operation that runs even on a faulted stream.
func (s *Stream) EnqueueAlways(name string, fn func() error) error {
	return s.enqueue(streamOp{name: name, fn: fn, always: true})
}

func (s *Stream) enqueue(op streamOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream %s: %w", s.name, api.ErrClosed)
	}
	if s.err != nil && !op.always {
		return fmt.Errorf("stream %s: %w: %v", s.name, api.ErrDeviceFaulted, s.err)
	}
	s.ops.Add(op)
	s.pending++
	if !op.always {
		s.work++
	}
	s.cond.Signal()
	return nil
}

func (s *Stream) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for s.ops.Length() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.ops.Length() == 0 {
			s.mu.Unlock()
			return
		}
		op := s.ops.Remove().(streamOp)
		faulted := s.err != nil
		s.mu.Unlock()

		var err error
		if !faulted || op.always {
			err = s.exec(op)
		}

		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = err
			log.WithError(err).WithField("stream", s.name).Errorf("Stream operation %s failed", op.name)
		}
		s.pending--
		if !op.always {
			s.work--
		}
		s.retired++
		s.mu.Unlock()
	}
}

func (s *Stream) exec(op streamOp) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", op.name, r)
		}
	}()
	return op.fn()
}

// Query reports whether every enqueued operation has retired.
func (s *Stream) Query() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending == 0
}

// Work returns the number of queued or running transfers and kernels.
// Callbacks are not counted.
func (s *Stream) Work() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.work
}

// Retired returns the number of retired operations.
func (s *Stream) Retired() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retired
}

// Err returns the first operation error, nil while healthy.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Sync waits until the stream drains and returns its fault, if any.
func (s *Stream) Sync(ctx context.Context) error {
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	drained := concurrency.PollUntil(deadline, func() bool {
		return s.Query() || ctx.Err() != nil
	})
	if !drained || !s.Query() {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("stream %s: %w", s.name, api.ErrOperationTimeout)
	}
	return s.Err()
}

// Close runs every queued operation and stops the goroutine.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}
