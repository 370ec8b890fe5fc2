// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package engine

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-accel/api"
)

func TestArgStager_Order(t *testing.T) {
	var s ArgStager
	for _, v := range []uint32{10, 20, 30} {
		if err := s.Push(api.Uint32Arg(v)); err != nil {
			t.Fatal(err)
		}
	}
	snap := s.Snapshot()
	for i, want := range []uint32{10, 20, 30} {
		got, _ := snap[i].Uint32()
		if got != want {
			t.Fatalf("arg %d = %d want %d", i, got, want)
		}
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatal("clear left arguments")
	}
	if got, _ := snap[0].Uint32(); got != 10 {
		t.Fatal("snapshot aliased staged storage")
	}
}

func TestArgStager_Limit(t *testing.T) {
	var s ArgStager
	for i := 0; i < api.MaxKernelArgs; i++ {
		if err := s.Push(api.Uint32Arg(uint32(i))); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := s.Push(api.Uint32Arg(99)); !errors.Is(err, api.ErrTooManyArgs) {
		t.Fatalf("17th push: %v", err)
	}
	if s.Len() != api.MaxKernelArgs {
		t.Fatalf("overflow changed the list: %d", s.Len())
	}
}
