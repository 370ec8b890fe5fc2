// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/momentics/hioload-accel/ipv4route"
)

func TestSyntheticRoutesBuild(t *testing.T) {
	tbl, err := ipv4route.Build(syntheticRoutes())
	if err != nil {
		t.Fatal(err)
	}
	if nh := tbl.Lookup(0x0A030105); nh != 103 {
		t.Fatalf("long prefix next hop %d", nh)
	}
	if nh := tbl.Lookup(0x0A030205); nh != 4 {
		t.Fatalf("/16 next hop %d", nh)
	}
}

func TestLookupCommandInline(t *testing.T) {
	t.Setenv("ACCEL_IO_BASE_COUNT", "2")
	t.Setenv("ACCEL_IO_BASE_SIZE", "65536")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"lookup", "--device", "cpu", "--batches", "4", "--miss-share", "0", "--log-level", "warn"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "dropped 0") {
		t.Fatalf("unexpected report:\n%s", out.String())
	}
}
