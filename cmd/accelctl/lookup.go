// File: cmd/accelctl/lookup.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Synthetic IPv4 lookup: generated frames pass CheckIPHeader inline, are
// routed by IPLookup on the selected device and discarded after the output
// interface is counted.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/element"
	"github.com/momentics/hioload-accel/elements/ip"
	"github.com/momentics/hioload-accel/elements/standards"
	"github.com/momentics/hioload-accel/facade"
	"github.com/momentics/hioload-accel/fake"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/ipv4route"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type lookupOptions struct {
	device      string
	rib         string
	workers     int
	batches     int
	txPorts     int
	randomShare float64
	seed        int64
	metricsAddr string
	dumpProbes  bool
}

func newLookupCmd(root *rootOptions) *cobra.Command {
	opts := &lookupOptions{}
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Run a synthetic IPv4 route lookup offload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLookup(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.device, "device", "d", "gpu", "Device to offload to: cpu, gpu or knapp")
	f.StringVar(&opts.rib, "rib", "", "Routing table file, overrides routing-table")
	f.IntVarP(&opts.workers, "workers", "w", 1, "Number of workers")
	f.IntVarP(&opts.batches, "batches", "b", 1000, "Batches per worker")
	f.IntVar(&opts.txPorts, "tx-ports", 4, "Output interfaces for round-robin annotation")
	f.Float64Var(&opts.randomShare, "miss-share", 0.1, "Share of destinations drawn outside the table")
	f.Int64Var(&opts.seed, "seed", 1, "Frame generator seed")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&opts.dumpProbes, "dump-probes", false, "Print the runtime debug probes before shutdown")
	return cmd
}

// syntheticRoutes covers 10.0.0.0/8 with /16s and a handful of long prefixes.
func syntheticRoutes() []ipv4route.Route {
	var routes []ipv4route.Route
	for i := uint32(0); i < 256; i++ {
		routes = append(routes, ipv4route.Route{Prefix: 0x0A000000 | i<<16, Len: 16, NextHop: uint16(i%64 + 1)})
	}
	for i := uint32(0); i < 16; i++ {
		routes = append(routes, ipv4route.Route{Prefix: 0x0A000000 | i<<16 | 0x100, Len: 28, NextHop: uint16(100 + i)})
	}
	return routes
}

func runLookup(cmd *cobra.Command, root *rootOptions, opts *lookupOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	typ, err := api.ParseDeviceType(opts.device)
	if err != nil {
		return err
	}
	cfg.Devices = append(cfg.Devices, typ.String())
	rib := opts.rib
	if rib == "" {
		rib = cfg.RoutingTable
	}
	var routes []ipv4route.Route
	if rib != "" {
		if routes, err = ipv4route.LoadRIB(rib); err != nil {
			log.WithError(err).WithField(logfields.Path, rib).Fatal("Routing table load failed")
		}
	} else {
		routes = syntheticRoutes()
	}

	rt, err := facade.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("Runtime setup failed")
	}
	serveMetrics(opts.metricsAddr)
	lookup, err := ip.NewIPLookup(ip.IPLookupConfig{Routes: routes, NumTxPorts: opts.txPorts, Storage: rt.Storage()})
	if err != nil {
		rt.Close()
		return err
	}
	check := ip.NewCheckIPHeader()
	discard := &standards.Discard{}
	tx := make([]atomic.Uint64, max(opts.txPorts, 1))
	out := element.OutputFunc(func(port int, p *element.Packet) {
		tx[p.Anno(element.AnnoIfaceOut)%uint64(len(tx))].Add(1)
		discard.Process(port, p, nil)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	var generated atomic.Uint64
	start := time.Now()
	for id := 0; id < opts.workers; id++ {
		w, err := rt.NewWorker(id, typ, lookup, out, nil)
		if err != nil {
			rt.Close()
			return err
		}
		ch := make(chan *element.Batch, cfg.PipelineDepth)
		src := fake.NewSource(opts.seed+int64(id), routes)
		src.RandomShare = opts.randomShare
		g.Go(func() error {
			defer close(ch)
			inline := element.OutputFunc(func(int, *element.Packet) {})
			for i := 0; i < opts.batches; i++ {
				b := src.Batch(id, cfg.CompBatchSize)
				for _, p := range b.Packets {
					check.Process(b.Port, p, inline)
				}
				generated.Add(uint64(len(b.Packets)))
				select {
				case ch <- b:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
		g.Go(func() error { return w.Run(gctx, ch) })
	}
	runErr := g.Wait()
	elapsed := time.Since(start)
	if opts.dumpProbes {
		if err := rt.Probes().WriteJSON(cmd.OutOrStdout()); err != nil {
			log.WithError(err).Warn("Probe dump failed")
		}
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		log.WithError(err).Warn("Runtime shutdown incomplete")
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	n := generated.Load()
	log.WithFields(logrus.Fields{
		logfields.DeviceType: typ.String(),
		"packets":            n,
		"forwarded":          discard.Count(),
		"elapsed":            elapsed,
	}).Info("Lookup run finished")
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "device %s: %d packets in %s (%.2f Mpps)\n", typ, n, elapsed, float64(n)/elapsed.Seconds()/1e6)
	fmt.Fprintf(w, "forwarded %d, dropped %d\n", discard.Count(), n-discard.Count())
	for i := range tx {
		fmt.Fprintf(w, "  tx port %d: %d\n", i, tx[i].Load())
	}
	return nil
}
