// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package engine

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-accel/api"
)

func TestOpenUnregistered(t *testing.T) {
	if _, err := Open(api.NumDeviceTypes, 0, 0, nil); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("unknown type: %v", err)
	}
}

func TestRegisterRejectsInvalidType(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Register(api.NumDeviceTypes, nil)
}

func TestWorkgroupsCoverAllItems(t *testing.T) {
	res := api.ResourceParam{NumWorkItems: 10, NumWorkgroups: 3, NumThreadsPerWorkgroup: 3}
	total := 0
	for _, r := range res.Workgroups() {
		total += r.Len()
	}
	if total != 10 {
		t.Fatalf("workgroups cover %d items", total)
	}
}
