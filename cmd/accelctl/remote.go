// File: cmd/accelctl/remote.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/knapp/remote"
	"github.com/momentics/hioload-accel/knapp/wire"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func newRemoteCmd(root *rootOptions) *cobra.Command {
	var (
		listen      string
		memLimit    int64
		cores       int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Serve the emulated coprocessor runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := root.load(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			serveMetrics(metricsAddr)
			srv := remote.NewServer(remote.Config{Addr: listen, MemLimit: memLimit, NumCores: cores})
			log.WithField(logfields.Addr, listen).Info("Serving coprocessor runtime")
			return srv.ListenAndServe(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&listen, "listen", fmt.Sprintf(":%d", wire.MasterPort), "Master listen address")
	f.Int64Var(&memLimit, "mem-limit", 0, "Device memory limit in bytes, 0 for unlimited")
	f.IntVar(&cores, "cores", wire.NumCores, "Physical cores handed to virtual devices")
	f.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(control.Registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField(logfields.Addr, addr).Error("Metrics endpoint failed")
		}
	}()
}
