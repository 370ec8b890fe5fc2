// control/debug.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Named debug probes over runtime state: devices, contexts and node-local
// storage register here and the facade dumps them on demand.

package control

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ProbeFunc reports one piece of runtime state.
type ProbeFunc func() any

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]ProbeFunc
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{probes: make(map[string]ProbeFunc)}
}

// RegisterProbe installs fn under name, replacing any previous probe.
func (dp *DebugProbes) RegisterProbe(name string, fn ProbeFunc) {
	dp.mu.Lock()
	dp.probes[name] = fn
	dp.mu.Unlock()
}

// UnregisterProbe removes a named probe.
func (dp *DebugProbes) UnregisterProbe(name string) {
	dp.mu.Lock()
	delete(dp.probes, name)
	dp.mu.Unlock()
}

// Names returns registered probe names in order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]string, 0, len(dp.probes))
	for k := range dp.probes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DumpState evaluates every probe outside the registry lock. A probe that
// panics reports the panic value as its state.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	fns := make(map[string]ProbeFunc, len(dp.probes))
	for k, fn := range dp.probes {
		fns[k] = fn
	}
	dp.mu.RUnlock()

	out := make(map[string]any, len(fns))
	for k, fn := range fns {
		out[k] = evalProbe(fn)
	}
	return out
}

func evalProbe(fn ProbeFunc) (v any) {
	defer func() {
		if r := recover(); r != nil {
			v = fmt.Sprintf("probe panicked: %v", r)
		}
	}()
	return fn()
}

// WriteJSON writes the dumped state as indented JSON.
func (dp *DebugProbes) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dp.DumpState())
}
