// File: element/packet.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package element

// Annotation slots carried with every packet.
const (
	AnnoIfaceIn = iota
	AnnoIfaceOut
	AnnoIPv4NextHop
	AnnoTimestamp

	NumAnno
)

// Packet is one frame moving through an element graph.
type Packet struct {
	data []byte
	anno [NumAnno]uint64
	dead bool
}

// NewPacket wraps frame data without copying.
func NewPacket(data []byte) *Packet { return &Packet{data: data} }

// Data returns the frame bytes.
func (p *Packet) Data() []byte { return p.data }

// SetData replaces the frame bytes.
func (p *Packet) SetData(b []byte) { p.data = b }

// Anno returns annotation slot i.
func (p *Packet) Anno(i int) uint64 { return p.anno[i] }

// SetAnno stores v into annotation slot i.
func (p *Packet) SetAnno(i int, v uint64) { p.anno[i] = v }

// Kill marks the packet dropped.
func (p *Packet) Kill() { p.dead = true }

// IsDead reports whether the packet was dropped.
func (p *Packet) IsDead() bool { return p.dead }

// Batch is a run of packets that entered an element on one input port.
type Batch struct {
	Port    int
	Packets []*Packet
}

// NewBatch builds a batch of frames on port.
func NewBatch(port int, frames ...[]byte) *Batch {
	b := &Batch{Port: port, Packets: make([]*Packet, len(frames))}
	for i, f := range frames {
		b.Packets[i] = NewPacket(f)
	}
	return b
}

// Live returns the number of packets not killed.
func (b *Batch) Live() int {
	n := 0
	for _, p := range b.Packets {
		if !p.dead {
			n++
		}
	}
	return n
}
