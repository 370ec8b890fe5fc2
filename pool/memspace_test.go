// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package pool

import (
	"bytes"
	"errors"
	"testing"

	"github.com/momentics/hioload-accel/api"
)

func TestMemSpace_ResolveAndUnregister(t *testing.T) {
	s := NewMemSpace()
	p, err := s.Alloc(128, 64)
	if err != nil {
		t.Fatal(err)
	}
	if p == api.NullDevicePtr {
		t.Fatal("null pointer returned")
	}
	b, err := s.Resolve(p.Add(16), 8)
	if err != nil {
		t.Fatal(err)
	}
	copy(b, "abcdefgh")
	whole, _ := s.Resolve(p, 128)
	if !bytes.Equal(whole[16:24], []byte("abcdefgh")) {
		t.Fatal("write through resolved slice lost")
	}
	if _, err := s.Resolve(p.Add(120), 16); !errors.Is(err, api.ErrBadDevicePtr) {
		t.Fatalf("out of range resolve accepted: %v", err)
	}
	if _, err := s.Unregister(p); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Resolve(p, 1); !errors.Is(err, api.ErrStaleHandle) {
		t.Fatalf("resolve after unregister: %v", err)
	}
	q, _ := s.Alloc(8, 8)
	if q.Region() != p.Region() || q.Gen() == p.Gen() {
		t.Fatalf("region reuse expected new generation: p=%s q=%s", p, q)
	}
	if _, err := s.Resolve(p, 1); err == nil {
		t.Fatal("old pointer resolves into reused region")
	}
	if n, sz := s.Stats(); n != 1 || sz != 8 {
		t.Fatalf("stats %d,%d", n, sz)
	}
}

func TestMemSpace_RejectsBadInput(t *testing.T) {
	s := NewMemSpace()
	if _, err := s.Alloc(0, 8); err == nil {
		t.Error("zero size accepted")
	}
	if _, err := s.Alloc(8, 6); err == nil {
		t.Error("alignment 6 accepted")
	}
	if _, err := s.Resolve(api.NullDevicePtr, 1); !errors.Is(err, api.ErrBadDevicePtr) {
		t.Errorf("null pointer resolved: %v", err)
	}
}

func TestMemSpace_StalePointerSurvivesManyReuses(t *testing.T) {
	s := NewMemSpace()
	old, err := s.Alloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Unregister(old); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 300; i++ {
		p, err := s.Alloc(16, 8)
		if err != nil {
			t.Fatal(err)
		}
		if p.Region() != old.Region() {
			t.Fatalf("cycle %d: region %d not reused", i, p.Region())
		}
		if _, err := s.Resolve(old, 1); !errors.Is(err, api.ErrStaleHandle) {
			t.Fatalf("cycle %d: stale pointer %s resolved: %v", i, old, err)
		}
		if _, err := s.Unregister(p); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMemSpace_RetiresExhaustedRegion(t *testing.T) {
	s := NewMemSpace()
	p, _ := s.Alloc(16, 8)
	s.regions[p.Region()].gen = api.MaxRegionGen - 1
	if _, err := s.Unregister(p); err != nil {
		t.Fatal(err)
	}
	last, err := s.Alloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	if last.Region() != p.Region() || last.Gen() != api.MaxRegionGen {
		t.Fatalf("expected final generation of region %d, got %s", p.Region(), last)
	}
	if _, err := s.Unregister(last); err != nil {
		t.Fatal(err)
	}
	next, err := s.Alloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	if next.Region() == p.Region() {
		t.Fatalf("retired region %d handed out again", p.Region())
	}
	if _, err := s.Resolve(last, 1); !errors.Is(err, api.ErrStaleHandle) {
		t.Fatalf("pointer into retired region resolved: %v", err)
	}
	if n, _ := s.Stats(); n != 1 {
		t.Fatalf("live regions %d, want 1", n)
	}
}
