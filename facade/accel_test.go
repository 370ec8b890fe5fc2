// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package facade_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/element"
	"github.com/momentics/hioload-accel/elements/ip"
	"github.com/momentics/hioload-accel/facade"
	"github.com/momentics/hioload-accel/fake"
	"github.com/momentics/hioload-accel/ipv4route"
)

func testConfig() *control.Config {
	cfg := control.DefaultConfig()
	cfg.Devices = []string{"cpu", "gpu"}
	cfg.IoBaseCount = 2
	cfg.IoBaseSize = 64 << 10
	cfg.ShutdownGrace = 5 * time.Second
	return cfg
}

func TestRuntimeLifecycle(t *testing.T) {
	r, err := facade.New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Devices()) != 2 {
		t.Fatalf("%d devices", len(r.Devices()))
	}
	if _, ok := r.Device(api.DeviceKnapp); ok {
		t.Fatal("knapp opened without being configured")
	}
	el, err := ip.NewIPLookup(ip.IPLookupConfig{
		Routes:     []ipv4route.Route{{Prefix: 0x0A000000, Len: 8, NextHop: 3}},
		NumTxPorts: 2,
		Storage:    r.Storage(),
	})
	if err != nil {
		t.Fatal(err)
	}
	sink := element.NewPortSink()
	w, err := r.NewWorker(0, api.DeviceGPU, el, sink, nil)
	if err != nil {
		t.Fatal(err)
	}
	ch := make(chan *element.Batch, 2)
	ch <- element.NewBatch(0, fake.IPv4Frame("10.0.0.1"), fake.IPv4Frame("11.0.0.1"))
	ch <- element.NewBatch(0, fake.IPv4Frame("10.2.0.1"))
	close(ch)
	if err := w.Run(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	if sink.Total() != 2 {
		t.Fatalf("%d packets routed", sink.Total())
	}

	state := r.Probes().DumpState()
	if devs := state["devices"].([]string); len(devs) != 2 {
		t.Fatalf("devices probe %v", devs)
	}
	if ctxs := state["contexts"].(map[string]string); ctxs["cuda/0"] != "idle" {
		t.Fatalf("contexts probe %v", ctxs)
	}
	if nl := state["node_local"].(map[int][]string); len(nl[r.NUMANode()]) == 0 {
		t.Fatal("routing table not in node-local storage")
	}

	rec := httptest.NewRecorder()
	r.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "hioload_accel_engine_kernel_launches_total") {
		t.Fatal("metrics not exposed")
	}

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal("second close:", err)
	}
	if _, err := r.NewOffloader(api.DeviceCPU); !errors.Is(err, api.ErrClosed) {
		t.Fatalf("offloader after close: %v", err)
	}
}

func TestRuntimeRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.IoBaseCount = 0
	if _, err := facade.New(cfg); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("invalid config: %v", err)
	}
}

func TestRuntimeFailsWithoutRemote(t *testing.T) {
	cfg := testConfig()
	cfg.Devices = []string{"cpu", "knapp"}
	cfg.Knapp.RemoteAddr = "127.0.0.1:1"
	cfg.Knapp.HostCtrlPortBase = 0
	cfg.Knapp.HostDataPortBase = 0
	cfg.Knapp.ConnRetry = 1
	cfg.Knapp.RetryInterval = time.Millisecond
	_, err := facade.New(cfg)
	if api.CodeOf(err) != api.ErrCodeTransport {
		t.Fatalf("code %s: %v", api.CodeOf(err), err)
	}
}
