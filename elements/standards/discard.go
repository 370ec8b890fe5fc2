// File: elements/standards/discard.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package standards holds generic elements.
package standards

import (
	"sync/atomic"

	"github.com/momentics/hioload-accel/element"
)

// Discard kills every packet.
type Discard struct {
	count atomic.Uint64
}

func (d *Discard) Name() string { return "Discard" }

func (d *Discard) Process(_ int, p *element.Packet, _ element.Output) {
	d.count.Add(1)
	p.Kill()
}

// Count returns the number of packets discarded.
func (d *Discard) Count() uint64 { return d.count.Load() }
