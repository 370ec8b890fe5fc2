// File: element/handlers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package element

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-accel/api"
)

// InitHandler stages the constant working set of an element on dev. It runs
// once per device before any compute handler.
type InitHandler func(dev api.ComputeDevice) error

// ComputeHandler stages per-batch element arguments on ctx and enqueues the
// kernel launch. The datablock arguments are already pushed.
type ComputeHandler func(dev api.ComputeDevice, ctx api.ComputeContext, res *api.ResourceParam) error

type handlerPair struct {
	init    InitHandler
	compute ComputeHandler
}

type initState struct {
	once sync.Once
	err  error
}

// HandlerSet maps device types to handlers. Registration happens during
// element construction; lookups are safe from any goroutine afterwards.
type HandlerSet struct {
	mu       sync.RWMutex
	handlers [api.NumDeviceTypes]*handlerPair
	inited   map[api.ComputeDevice]*initState
}

// Register installs the handlers of device type t. init may be nil.
func (h *HandlerSet) Register(t api.DeviceType, init InitHandler, compute ComputeHandler) error {
	if !t.Valid() || compute == nil {
		return fmt.Errorf("%w: handlers for %s", api.ErrInvalidArgument, t)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handlers[t] != nil {
		return fmt.Errorf("%w: handlers for %s", api.ErrAlreadyExists, t)
	}
	h.handlers[t] = &handlerPair{init: init, compute: compute}
	return nil
}

// Lookup returns the compute handler of t.
func (h *HandlerSet) Lookup(t api.DeviceType) (ComputeHandler, bool) {
	if !t.Valid() {
		return nil, false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	p := h.handlers[t]
	if p == nil {
		return nil, false
	}
	return p.compute, true
}

// Has reports whether t has handlers.
func (h *HandlerSet) Has(t api.DeviceType) bool {
	_, ok := h.Lookup(t)
	return ok
}

// Types lists the device types with handlers.
func (h *HandlerSet) Types() []api.DeviceType {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []api.DeviceType
	for t, p := range h.handlers {
		if p != nil {
			out = append(out, api.DeviceType(t))
		}
	}
	return out
}

// InitDevice runs the init handler of dev's type exactly once per device.
// Later calls return the first result.
func (h *HandlerSet) InitDevice(dev api.ComputeDevice) error {
	t := dev.Type()
	if !t.Valid() {
		return fmt.Errorf("%w: device type %s", api.ErrInvalidArgument, t)
	}
	h.mu.Lock()
	p := h.handlers[t]
	if p == nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: no handlers for %s", api.ErrNotFound, t)
	}
	if h.inited == nil {
		h.inited = make(map[api.ComputeDevice]*initState)
	}
	st, ok := h.inited[dev]
	if !ok {
		st = &initState{}
		h.inited[dev] = st
	}
	h.mu.Unlock()
	st.once.Do(func() {
		if p.init != nil {
			st.err = p.init(dev)
		}
	})
	return st.err
}
