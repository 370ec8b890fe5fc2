// File: facade/accel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime aggregates the configured compute devices, the node-local storage
// shared by elements, the debug probes and the worker contexts behind one
// lifecycle. Configuration is immutable once New returns.

package facade

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/element"
	"github.com/momentics/hioload-accel/engine"
	_ "github.com/momentics/hioload-accel/engine/cpu"
	_ "github.com/momentics/hioload-accel/engine/gpu"
	_ "github.com/momentics/hioload-accel/engine/knapp"
	"github.com/momentics/hioload-accel/internal/concurrency"
	"github.com/momentics/hioload-accel/internal/logging"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/momentics/hioload-accel/offload"
	"github.com/momentics/hioload-accel/pool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var log = logging.DefaultLogger.WithField(logfields.LogSubsys, "facade")

// Runtime is the engine entry point.
type Runtime struct {
	cfg     *control.Config
	node    int
	devices []api.ComputeDevice
	storage *pool.NodeLocalRegistry
	probes  *control.DebugProbes

	mu       sync.Mutex
	contexts []api.ComputeContext
	nextCtx  map[api.DeviceType]int
	closed   bool
}

// New validates cfg, applies the logging settings and opens every configured
// device. A device that fails to open aborts the runtime.
func New(cfg *control.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logging.SetupLogging(cfg.LogLevel, logging.Format(cfg.LogFormat)); err != nil {
		return nil, err
	}
	nodes := concurrency.NUMANodes()
	if nodes > control.MaxNodes {
		nodes = control.MaxNodes
	}
	node := cfg.NUMANode
	if node < 0 || node >= nodes {
		node = 0
	}
	r := &Runtime{
		cfg:     cfg,
		node:    node,
		storage: pool.NewNodeLocalRegistry(nodes, pool.DefaultHostAllocator()),
		probes:  control.NewDebugProbes(),
		nextCtx: make(map[api.DeviceType]int),
	}
	for _, t := range cfg.DeviceTypes() {
		dev, err := engine.Open(t, 0, node, cfg)
		if err != nil {
			r.Close()
			return nil, api.WrapError(api.CodeOf(err), "open device", err).
				WithContext(logfields.DeviceType, t.String())
		}
		r.devices = append(r.devices, dev)
	}
	if cfg.EnableDebug {
		r.registerProbes()
	}
	log.WithFields(logrus.Fields{
		"devices":          len(r.devices),
		logfields.NUMANode: node,
	}).Info("Offload runtime ready")
	return r, nil
}

// Config returns the runtime configuration.
func (r *Runtime) Config() *control.Config { return r.cfg }

// Devices returns the open devices in configuration order.
func (r *Runtime) Devices() []api.ComputeDevice { return r.devices }

// Device returns the open device of type t.
func (r *Runtime) Device(t api.DeviceType) (api.ComputeDevice, bool) {
	for _, d := range r.devices {
		if d.Type() == t {
			return d, true
		}
	}
	return nil, false
}

// Storage returns the node-local storage registry.
func (r *Runtime) Storage() *pool.NodeLocalRegistry { return r.storage }

// NUMANode returns the node the devices were opened on.
func (r *Runtime) NUMANode() int { return r.node }

// Probes returns the debug probe registry.
func (r *Runtime) Probes() *control.DebugProbes { return r.probes }

// MetricsHandler serves the engine collectors.
func (r *Runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(control.Registry, promhttp.HandlerOpts{})
}

// NewOffloader creates a context on the device of type t. The runtime owns
// the context and closes it in Close.
func (r *Runtime) NewOffloader(t api.DeviceType) (*offload.Offloader, error) {
	dev, ok := r.Device(t)
	if !ok {
		return nil, fmt.Errorf("%w: device %s not open", api.ErrNotFound, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, api.ErrClosed
	}
	id := r.nextCtx[t]
	ctx, err := dev.NewContext(id)
	if err != nil {
		return nil, err
	}
	r.nextCtx[t] = id + 1
	r.contexts = append(r.contexts, ctx)
	return offload.New(dev, ctx), nil
}

// NewWorker builds a worker for el on a fresh context of device t. Workers
// are pinned to CPUs of the runtime node when CPU affinity is enabled.
func (r *Runtime) NewWorker(id int, t api.DeviceType, el element.Element, out element.Output, onDone offload.DoneFunc) (*offload.Worker, error) {
	off, err := r.NewOffloader(t)
	if err != nil {
		return nil, err
	}
	cpu := -1
	if r.cfg.CPUAffinity {
		cpu = concurrency.PreferredCPUID(r.node, id)
	}
	return offload.NewWorker(offload.WorkerConfig{
		ID:           id,
		CPU:          cpu,
		DrainTimeout: r.cfg.ShutdownGrace,
		OnDone:       onDone,
	}, off, el, out), nil
}

func (r *Runtime) registerProbes() {
	r.probes.RegisterProbe("devices", func() any {
		out := make([]string, 0, len(r.devices))
		for _, d := range r.devices {
			out = append(out, fmt.Sprintf("%s/%d@node%d", d.Type(), d.ID(), d.NUMANode()))
		}
		return out
	})
	r.probes.RegisterProbe("contexts", func() any {
		r.mu.Lock()
		defer r.mu.Unlock()
		out := make(map[string]string, len(r.contexts))
		for _, c := range r.contexts {
			state := c.State().String()
			if c.Err() != nil {
				state = "faulted"
			}
			out[fmt.Sprintf("%s/%d", c.Type(), c.ID())] = state
		}
		return out
	})
	r.probes.RegisterProbe("node_local", func() any {
		out := make(map[int][]string, r.storage.NumNodes())
		for i := 0; i < r.storage.NumNodes(); i++ {
			out[i] = r.storage.Node(i).Names()
		}
		return out
	})
}

// Shutdown drains every context within the shutdown grace period and then
// closes the runtime.
func (r *Runtime) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ShutdownGrace)
	defer cancel()
	r.mu.Lock()
	contexts := append([]api.ComputeContext(nil), r.contexts...)
	r.mu.Unlock()
	var errs []error
	for _, c := range contexts {
		if err := c.Sync(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain %s/%d: %w", c.Type(), c.ID(), err))
		}
	}
	errs = append(errs, r.Close())
	return errors.Join(errs...)
}

// Close releases contexts, devices and node-local storage. It is idempotent.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	contexts := r.contexts
	r.contexts = nil
	r.mu.Unlock()

	var errs []error
	for _, c := range contexts {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range r.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s/%d: %w", d.Type(), d.ID(), err))
		}
	}
	if err := r.storage.Close(); err != nil {
		errs = append(errs, err)
	}
	log.Info("Offload runtime closed")
	return errors.Join(errs...)
}
