// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package concurrency

import (
	"reflect"
	"testing"
)

func TestParseCPUList(t *testing.T) {
	cases := map[string][]int{
		"0":           {0},
		"0-3":         {0, 1, 2, 3},
		"0-1,8,10-11": {0, 1, 8, 10, 11},
		"  2-3\n":     {2, 3},
	}
	for in, want := range cases {
		got, err := ParseCPUList(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%q: got %v want %v", in, got, want)
		}
	}
	if _, err := ParseCPUList("3-1"); err == nil {
		t.Error("descending range accepted")
	}
	if _, err := ParseCPUList("x"); err == nil {
		t.Error("garbage accepted")
	}
}

func TestTopologyDefaults(t *testing.T) {
	if NUMANodes() < 1 {
		t.Fatal("expected at least one NUMA node")
	}
	if cpu := PreferredCPUID(0, 0); cpu < 0 {
		t.Fatalf("bad preferred cpu %d", cpu)
	}
}
