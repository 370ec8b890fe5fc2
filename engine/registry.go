// File: engine/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Backend registry keyed by api.DeviceType. Backends register from init;
// the set of device types is closed, so the registry is a fixed array.

package engine

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/logging/logfields"
	"github.com/sirupsen/logrus"
)

// Factory opens device id of a backend on a NUMA node.
type Factory func(id, numaNode int, cfg *control.Config) (api.ComputeDevice, error)

var registry struct {
	mu        sync.RWMutex
	factories [api.NumDeviceTypes]Factory
}

// Register installs the factory of device type t. Registering a type twice
// or an unknown type panics.
func Register(t api.DeviceType, f Factory) {
	if !t.Valid() || f == nil {
		panic(fmt.Sprintf("engine: invalid backend registration for %s", t))
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.factories[t] != nil {
		panic(fmt.Sprintf("engine: backend %s registered twice", t))
	}
	registry.factories[t] = f
}

// Registered lists the device types with an installed backend.
func Registered() []api.DeviceType {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	var out []api.DeviceType
	for t, f := range registry.factories {
		if f != nil {
			out = append(out, api.DeviceType(t))
		}
	}
	return out
}

// Open builds a device through the registered backend.
func Open(t api.DeviceType, id, numaNode int, cfg *control.Config) (api.ComputeDevice, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %s", api.ErrInvalidArgument, t)
	}
	registry.mu.RLock()
	f := registry.factories[t]
	registry.mu.RUnlock()
	if f == nil {
		return nil, fmt.Errorf("%w: no backend for %s", api.ErrNotSupported, t)
	}
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	dev, err := f(id, numaNode, cfg)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		logfields.DeviceType: t.String(),
		logfields.DeviceID:   id,
		logfields.NUMANode:   numaNode,
	}).Info("Compute device opened")
	return dev, nil
}
