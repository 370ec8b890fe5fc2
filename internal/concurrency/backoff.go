// File: internal/concurrency/backoff.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Adaptive backoff for busy-polling loops.

package concurrency

import (
	"runtime"
	"time"
)

const (
	backoffSpinLimit = 64
	backoffMaxSleep  = time.Millisecond
)

// Backoff escalates from spinning to yielding to short sleeps while a
// poller finds nothing to do. Reset it after every hit.
// A Backoff is owned by a single goroutine.
type Backoff struct {
	idle  int
	sleep time.Duration
}

// Wait performs one backoff step.
func (b *Backoff) Wait() {
	b.idle++
	switch {
	case b.idle < backoffSpinLimit:
		runtime.Gosched()
	default:
		if b.sleep == 0 {
			b.sleep = time.Microsecond
		}
		time.Sleep(b.sleep)
		b.sleep *= 2
		if b.sleep > backoffMaxSleep {
			b.sleep = backoffMaxSleep
		}
	}
}

// Reset returns the backoff to its spinning phase.
func (b *Backoff) Reset() {
	b.idle = 0
	b.sleep = 0
}

// PollUntil polls cond with adaptive backoff until it returns true or the
// deadline passes. A zero deadline polls forever.
func PollUntil(deadline time.Time, cond func() bool) bool {
	var b Backoff
	for {
		if cond() {
			return true
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return cond()
		}
		b.Wait()
	}
}
