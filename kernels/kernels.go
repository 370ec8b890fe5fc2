// File: kernels/kernels.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package kernels holds the kernel table shared by the local backends and
// the coprocessor runtime. Kernels are addressed by a stable numeric ID so
// that remote launches can name them on the wire.
//
// Datablock kernels follow one argument layout:
//
//	args[0]  input record array (device pointer)
//	args[1]  output record array (device pointer)
//	args[2]  record count (uint32)
//	args[3:] element-specific arguments
package kernels

import (
	"fmt"
	"sort"
	"sync"

	"github.com/momentics/hioload-accel/api"
)

// Built-in kernel identifiers.
const (
	IDNoop       int32 = 0
	IDCopy       int32 = 1
	IDIPv4Lookup int32 = 2
)

type entry struct {
	name string
	fn   api.KernelFunc
}

// Table maps kernel IDs to bodies. Safe for concurrent use.
type Table struct {
	mu   sync.RWMutex
	byID map[int32]entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{byID: make(map[int32]entry)}
}

// Register installs fn under id.
func (t *Table) Register(id int32, name string, fn api.KernelFunc) error {
	if id < 0 || fn == nil {
		return fmt.Errorf("%w: kernel %q id %d", api.ErrInvalidArgument, name, id)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[id]; ok {
		return fmt.Errorf("%w: kernel id %d", api.ErrAlreadyExists, id)
	}
	t.byID[id] = entry{name: name, fn: fn}
	return nil
}

// Lookup returns the body of id.
func (t *Table) Lookup(id int32) (api.KernelFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	return e.fn, ok
}

// Handle returns a launchable handle for id.
func (t *Table) Handle(id int32) (api.KernelHandle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byID[id]
	if !ok {
		return api.KernelHandle{}, false
	}
	return api.KernelHandle{Name: e.name, Func: e.fn, ID: id}, true
}

// IDs lists the registered identifiers in ascending order.
func (t *Table) IDs() []int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int32, 0, len(t.byID))
	for id := range t.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Default is the table of built-in kernels.
var Default = NewTable()

func init() {
	for _, k := range []struct {
		id   int32
		name string
		fn   api.KernelFunc
	}{
		{IDNoop, "noop", Noop},
		{IDCopy, "copy", Copy},
		{IDIPv4Lookup, "ipv4_route_lookup", IPv4Lookup},
	} {
		if err := Default.Register(k.id, k.name, k.fn); err != nil {
			panic(err)
		}
	}
}

// Builtin returns the handle of a built-in kernel; it panics on unknown IDs.
func Builtin(id int32) api.KernelHandle {
	h, ok := Default.Handle(id)
	if !ok {
		panic(fmt.Sprintf("kernels: no built-in kernel %d", id))
	}
	return h
}

// Resolve returns the body of k, falling back to the default table when the
// handle only carries an ID.
func Resolve(k api.KernelHandle) (api.KernelFunc, error) {
	if k.Func != nil {
		return k.Func, nil
	}
	if fn, ok := Default.Lookup(k.ID); ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%w: kernel %q id %d", api.ErrNotFound, k.Name, k.ID)
}
