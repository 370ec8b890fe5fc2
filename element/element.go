// File: element/element.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package element

import (
	"sync"

	"github.com/momentics/hioload-accel/api"
)

// Output receives packets an element admits. Offloaded results are pushed
// from the context stream goroutine, so implementations must be safe for
// use from a goroutine other than the worker.
type Output interface {
	Push(port int, pkt *Packet)
}

// OutputFunc adapts a function to Output.
type OutputFunc func(port int, pkt *Packet)

// Push calls f.
func (f OutputFunc) Push(port int, pkt *Packet) { f(port, pkt) }

// Element processes one packet at a time. It either pushes pkt to out or
// kills it.
type Element interface {
	Name() string
	Process(port int, pkt *Packet, out Output)
}

// Datablock sizes the per-packet records exchanged with a device.
type Datablock struct {
	InputSize  int
	OutputSize int
}

// Offloadable is an element that can run its per-packet work as a kernel.
type Offloadable interface {
	Element

	// Handlers returns the per-device-type init and compute handlers.
	Handlers() *HandlerSet
	// DesiredWorkgroupSize sizes launches on device family t.
	DesiredWorkgroupSize(t api.DeviceType) int
	// Datablock returns the record sizes of one packet.
	Datablock() Datablock
	// Preproc fills the input record of pkt. It may kill pkt, in which case
	// the record is ignored.
	Preproc(port int, pkt *Packet, rec []byte)
	// Postproc consumes the output record of pkt with the same push or
	// kill contract as Process.
	Postproc(port int, result []byte, pkt *Packet, out Output)
}

// PortSink is an Output that records pushes by port.
type PortSink struct {
	mu    sync.Mutex
	ports map[int][]*Packet
	total int
}

// NewPortSink returns an empty sink.
func NewPortSink() *PortSink { return &PortSink{ports: make(map[int][]*Packet)} }

// Push records pkt under port.
func (s *PortSink) Push(port int, pkt *Packet) {
	s.mu.Lock()
	s.ports[port] = append(s.ports[port], pkt)
	s.total++
	s.mu.Unlock()
}

// Port returns the packets pushed to port.
func (s *PortSink) Port(port int) []*Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Packet(nil), s.ports[port]...)
}

// Total returns the number of pushes.
func (s *PortSink) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
