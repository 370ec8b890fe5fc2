// File: engine/stager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded ordered kernel argument list of one context.

package engine

import (
	"github.com/momentics/hioload-accel/api"
)

// ArgStager collects the arguments of the next launch in push order.
// It is owned by the worker driving the context.
type ArgStager struct {
	args [api.MaxKernelArgs]api.KernelArg
	n    int
}

// Clear drops every staged argument.
func (s *ArgStager) Clear() {
	for i := 0; i < s.n; i++ {
		s.args[i] = api.KernelArg{}
	}
	s.n = 0
}

// Push appends arg. Past api.MaxKernelArgs it fails with api.ErrTooManyArgs
// and leaves the list unchanged.
func (s *ArgStager) Push(arg api.KernelArg) error {
	if s.n >= api.MaxKernelArgs {
		return api.ErrTooManyArgs
	}
	if arg.Size == 0 {
		arg.Size = len(arg.Data)
	}
	s.args[s.n] = arg
	s.n++
	return nil
}

// Len returns the number of staged arguments.
func (s *ArgStager) Len() int { return s.n }

// Snapshot returns a deep copy of the staged arguments.
func (s *ArgStager) Snapshot() []api.KernelArg {
	out := make([]api.KernelArg, s.n)
	for i := 0; i < s.n; i++ {
		a := s.args[i]
		a.Data = append([]byte(nil), a.Data...)
		out[i] = a
	}
	return out
}
