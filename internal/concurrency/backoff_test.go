// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package concurrency

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestPollUntil(t *testing.T) {
	var flag atomic.Bool
	go func() {
		time.Sleep(5 * time.Millisecond)
		flag.Store(true)
	}()
	if !PollUntil(time.Now().Add(2*time.Second), flag.Load) {
		t.Fatal("condition not observed before deadline")
	}
}

func TestPollUntil_Deadline(t *testing.T) {
	start := time.Now()
	if PollUntil(start.Add(10*time.Millisecond), func() bool { return false }) {
		t.Fatal("expected deadline expiry")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatal("returned before deadline")
	}
}
