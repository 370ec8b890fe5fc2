// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package ip

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/element"
	"github.com/momentics/hioload-accel/engine"
	_ "github.com/momentics/hioload-accel/engine/cpu"
	_ "github.com/momentics/hioload-accel/engine/gpu"
	_ "github.com/momentics/hioload-accel/engine/knapp"
	"github.com/momentics/hioload-accel/fake"
	"github.com/momentics/hioload-accel/ipv4route"
	"github.com/momentics/hioload-accel/knapp/remote"
	"github.com/momentics/hioload-accel/offload"
	"github.com/momentics/hioload-accel/pool"
)

const testRIB = `
# test routes
10.0.0.0/8 11
10.0.0.240/28 12
192.168.1.0/24 13
192.168.1.7/32 14
`

func testRoutes(t *testing.T) []ipv4route.Route {
	t.Helper()
	routes, err := ipv4route.ParseRIB(strings.NewReader(testRIB))
	if err != nil {
		t.Fatal(err)
	}
	return routes
}

func TestIPLookupProcess(t *testing.T) {
	e, err := NewIPLookup(IPLookupConfig{Routes: testRoutes(t), NumTxPorts: 2})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		dst string
		nh  uint64
	}{
		{"10.1.2.3", 11},
		{"10.0.0.241", 12},
		{"192.168.1.8", 13},
		{"192.168.1.7", 14},
		{"172.16.0.1", 0},
	}
	sink := element.NewPortSink()
	for _, tc := range cases {
		p := element.NewPacket(fake.IPv4Frame(tc.dst))
		e.Process(0, p, sink)
		if tc.nh == 0 {
			if !p.IsDead() {
				t.Fatalf("%s: routed without a route", tc.dst)
			}
			continue
		}
		if p.IsDead() || p.Anno(element.AnnoIPv4NextHop) != tc.nh {
			t.Fatalf("%s: next hop %d", tc.dst, p.Anno(element.AnnoIPv4NextHop))
		}
	}
	pushed := sink.Port(0)
	if len(pushed) != 4 {
		t.Fatalf("%d packets pushed", len(pushed))
	}
	for i := 1; i < len(pushed); i++ {
		if pushed[i].Anno(element.AnnoIfaceOut) == pushed[i-1].Anno(element.AnnoIfaceOut) {
			t.Fatal("output interface not round-robin")
		}
	}
	arp := element.NewPacket(fake.ARPFrame())
	e.Process(0, arp, sink)
	if !arp.IsDead() {
		t.Fatal("non-IPv4 frame routed")
	}
}

func TestIPLookupNoTxPorts(t *testing.T) {
	e, err := NewIPLookup(IPLookupConfig{Routes: testRoutes(t)})
	if err != nil {
		t.Fatal(err)
	}
	p := element.NewPacket(fake.IPv4Frame("10.9.9.9"))
	e.Process(0, p, element.NewPortSink())
	if p.IsDead() || p.Anno(element.AnnoIfaceOut) != 0 {
		t.Fatal("zero tx ports")
	}
}

func TestIPLookupRejectsBadConfig(t *testing.T) {
	if _, err := NewIPLookup(IPLookupConfig{}); err == nil {
		t.Fatal("no routes accepted")
	}
	if _, err := NewIPLookup(IPLookupConfig{Routes: []ipv4route.Route{{Len: 33}}}); err == nil {
		t.Fatal("bad route accepted")
	}
}

func TestNodeReplicaShared(t *testing.T) {
	storage := pool.NewNodeLocalRegistry(2, nil)
	defer storage.Close()
	routes := testRoutes(t)
	a, _ := NewIPLookup(IPLookupConfig{Routes: routes, Storage: storage})
	b, _ := NewIPLookup(IPLookupConfig{Routes: routes, Storage: storage})
	if err := a.Prepare(1); err != nil {
		t.Fatal(err)
	}
	if err := b.Prepare(1); err != nil {
		t.Fatal(err)
	}
	mem, ok := storage.Node(1).GetAlloc(TBL24Name)
	if !ok {
		t.Fatal("TBL24 not replicated")
	}
	long, _ := storage.Node(1).GetAlloc(TBLlongName)
	if got := ipv4route.EncodedLookup(mem, long, 0xC0A80107); got != 14 {
		t.Fatalf("replica lookup %d", got)
	}
	if names := storage.Node(0).Names(); len(names) != 0 {
		t.Fatalf("node 0 touched: %v", names)
	}
}

func TestIPLookupOffload(t *testing.T) {
	for _, typ := range []api.DeviceType{api.DeviceGPU, api.DeviceKnapp} {
		t.Run(typ.String(), func(t *testing.T) {
			cfg := control.DefaultConfig()
			cfg.IoBaseCount = 2
			cfg.IoBaseSize = 64 << 10
			cfg.PipelineDepth = 4
			if typ == api.DeviceKnapp {
				srv := remote.NewServer(remote.Config{Addr: "127.0.0.1:0"})
				if err := srv.Listen(); err != nil {
					t.Fatal(err)
				}
				done := make(chan error, 1)
				go func() { done <- srv.Serve(context.Background()) }()
				t.Cleanup(func() {
					srv.Close()
					<-done
				})
				cfg.Knapp.RemoteAddr = srv.Addr()
				cfg.Knapp.HostCtrlPortBase = 0
				cfg.Knapp.HostDataPortBase = 0
				cfg.Knapp.RetryInterval = 10 * time.Millisecond
			}
			dev, err := engine.Open(typ, 0, 0, cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer dev.Close()
			ctx, err := dev.NewContext(0)
			if err != nil {
				t.Fatal(err)
			}
			defer ctx.Close()

			storage := pool.NewNodeLocalRegistry(1, nil)
			defer storage.Close()
			routes := testRoutes(t)
			e, err := NewIPLookup(IPLookupConfig{Routes: routes, NumTxPorts: 4, Storage: storage})
			if err != nil {
				t.Fatal(err)
			}
			src := fake.NewSource(7, routes)
			src.RandomShare = 0.2
			b := src.Batch(0, 700)
			want := make([]uint16, len(b.Packets))
			for i, p := range b.Packets {
				addr, _ := dstAddr(p.Data())
				want[i] = e.Table().Lookup(addr)
			}

			sink := element.NewPortSink()
			done := make(chan error, 1)
			o := offload.New(dev, ctx)
			if err := o.Submit(e, b, sink, func(_ *element.Batch, err error) { done <- err }); err != nil {
				t.Fatal(err)
			}
			select {
			case err := <-done:
				if err != nil {
					t.Fatal(err)
				}
			case <-time.After(20 * time.Second):
				t.Fatal("offload did not complete")
			}
			routed := 0
			for i, p := range b.Packets {
				if want[i] == ipv4route.Miss {
					if !p.IsDead() {
						t.Fatalf("packet %d routed on a miss", i)
					}
					continue
				}
				routed++
				if p.IsDead() || p.Anno(element.AnnoIPv4NextHop) != uint64(want[i]) {
					t.Fatalf("packet %d: next hop %d, want %d", i, p.Anno(element.AnnoIPv4NextHop), want[i])
				}
				if p.Anno(element.AnnoIfaceOut) >= 4 {
					t.Fatal("output interface out of range")
				}
			}
			if routed == 0 || len(sink.Port(0)) != routed {
				t.Fatalf("%d routed, %d pushed", routed, len(sink.Port(0)))
			}
			if _, ok := storage.Node(0).Load(DeviceKey(TBL24Name, dev)); !ok {
				t.Fatal("device descriptor not stored")
			}
		})
	}
}
