// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package control

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistered(t *testing.T) {
	before := testutil.ToFloat64(KernelLaunches.WithLabelValues("cpu"))
	KernelLaunches.WithLabelValues("cpu").Inc()
	if got := testutil.ToFloat64(KernelLaunches.WithLabelValues("cpu")); got != before+1 {
		t.Fatalf("counter %v want %v", got, before+1)
	}
	n, err := testutil.GatherAndCount(Registry, "hioload_accel_engine_kernel_launches_total")
	if err != nil {
		t.Fatal(err)
	}
	if n < 1 {
		t.Fatal("kernel launch series not gathered")
	}
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 2 })
	dp.RegisterProbe("a", func() any { return 1 })
	if names := dp.Names(); len(names) != 2 || names[0] != "a" {
		t.Fatalf("names %v", names)
	}
	state := dp.DumpState()
	if state["a"].(int) != 1 || state["b"].(int) != 2 {
		t.Fatalf("state %v", state)
	}
	dp.UnregisterProbe("a")
	if _, ok := dp.DumpState()["a"]; ok {
		t.Fatal("probe not removed")
	}
}

func TestDebugProbePanicIsReported(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("bad", func() any { panic("boom") })
	dp.RegisterProbe("ok", func() any { return []string{"x"} })
	state := dp.DumpState()
	if s, _ := state["bad"].(string); !strings.Contains(s, "boom") {
		t.Fatalf("panic state %v", state["bad"])
	}
	var buf bytes.Buffer
	if err := dp.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"ok"`) {
		t.Fatalf("json dump %s", buf.String())
	}
}
