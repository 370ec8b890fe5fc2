// File: fake/source.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Deterministic receive queue that emits batches of synthetic frames.

package fake

import (
	"math/rand"

	"github.com/momentics/hioload-accel/element"
	"github.com/momentics/hioload-accel/ipv4route"
)

// Source generates frames whose destinations fall inside a route set, with
// a configurable share of random destinations.
type Source struct {
	rng    *rand.Rand
	routes []ipv4route.Route
	// RandomShare is the probability of a destination outside the routes.
	RandomShare float64
	emitted     uint64
}

// NewSource builds a seeded source over routes.
func NewSource(seed int64, routes []ipv4route.Route) *Source {
	return &Source{rng: rand.New(rand.NewSource(seed)), routes: routes}
}

// Addr draws one host-order destination.
func (s *Source) Addr() uint32 {
	if len(s.routes) == 0 || s.rng.Float64() < s.RandomShare {
		return s.rng.Uint32()
	}
	r := s.routes[s.rng.Intn(len(s.routes))]
	host := uint32(0)
	if r.Len < 32 {
		host = s.rng.Uint32() & (1<<(32-uint32(r.Len)) - 1)
	}
	return r.Prefix&^(1<<(32-uint32(r.Len))-1) | host
}

// Batch returns n fresh frames received on port.
func (s *Source) Batch(port, n int) *element.Batch {
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = IPv4FrameTo(s.Addr())
	}
	s.emitted += uint64(n)
	return element.NewBatch(port, frames...)
}

// Emitted returns the number of frames produced.
func (s *Source) Emitted() uint64 { return s.emitted }
