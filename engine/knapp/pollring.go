// File: engine/knapp/pollring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package knapp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/concurrency"
)

type pollSlot struct {
	state atomic.Uint64
	busy  atomic.Bool
	err   atomic.Pointer[string]
}

// PollRing is the host-resident completion array of a virtual device. The
// host arms a slot with PollTaskReady; the remote moves it through
// PollCopyPending to PollOffloadComplete.
type PollRing struct {
	mu    sync.Mutex
	slots []pollSlot
	next  int
	abort atomic.Pointer[error]
}

// NewPollRing creates a ring with depth free slots.
func NewPollRing(depth int) *PollRing {
	if depth < 1 {
		depth = 1
	}
	r := &PollRing{slots: make([]pollSlot, depth)}
	for i := range r.slots {
		r.slots[i].state.Store(uint64(api.PollOffloadComplete))
	}
	return r
}

// Depth returns the number of slots.
func (r *PollRing) Depth() int { return len(r.slots) }

// Arm claims the next free slot and marks it PollTaskReady.
func (r *PollRing) Arm() (uint32, error) {
	if err := r.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < len(r.slots); i++ {
		idx := (r.next + i) % len(r.slots)
		s := &r.slots[idx]
		if s.busy.CompareAndSwap(false, true) {
			s.err.Store(nil)
			s.state.Store(uint64(api.PollTaskReady))
			r.next = idx + 1
			return uint32(idx), nil
		}
	}
	return 0, fmt.Errorf("%w: all %d poll ring slots in flight", api.ErrResourceExhausted, len(r.slots))
}

// Update stores a remote state into slot. msg, when set, is the remote
// failure of the operation.
func (r *PollRing) Update(slot uint32, state api.PollRingState, msg string) error {
	if int(slot) >= len(r.slots) {
		return fmt.Errorf("%w: poll ring slot %d of %d", api.ErrInvalidArgument, slot, len(r.slots))
	}
	s := &r.slots[slot]
	if msg != "" {
		s.err.Store(&msg)
	}
	s.state.Store(uint64(state))
	return nil
}

// State returns the current value of slot.
func (r *PollRing) State(slot uint32) api.PollRingState {
	return api.PollRingState(r.slots[slot].state.Load())
}

// Wait polls slot with backoff until it reaches PollOffloadComplete, the
// ring is aborted or timeout passes. A completed slot is released. A timed
// out slot stays claimed so a late completion cannot land in a reused slot.
func (r *PollRing) Wait(slot uint32, timeout time.Duration) error {
	s := &r.slots[slot]
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	done := concurrency.PollUntil(deadline, func() bool {
		return api.PollRingState(s.state.Load()) == api.PollOffloadComplete || r.abort.Load() != nil
	})
	if api.PollRingState(s.state.Load()) != api.PollOffloadComplete {
		if err := r.Err(); err != nil {
			return err
		}
		if !done {
			control.PollTimeouts.Inc()
			return fmt.Errorf("%w: slot %d still %s after %s", api.ErrPollTimeout, slot, r.State(slot), timeout)
		}
	}
	var err error
	if msg := s.err.Load(); msg != nil {
		err = fmt.Errorf("%w: %s", api.ErrDeviceFaulted, *msg)
	}
	r.Release(slot)
	return err
}

// Release returns slot to the free set.
func (r *PollRing) Release(slot uint32) {
	r.slots[slot].busy.Store(false)
}

// InFlight returns the number of claimed slots.
func (r *PollRing) InFlight() int {
	n := 0
	for i := range r.slots {
		if r.slots[i].busy.Load() {
			n++
		}
	}
	return n
}

// Abort fails every current and future wait with err.
func (r *PollRing) Abort(err error) {
	r.abort.CompareAndSwap(nil, &err)
}

// Err returns the abort cause.
func (r *PollRing) Err() error {
	if p := r.abort.Load(); p != nil {
		return *p
	}
	return nil
}
