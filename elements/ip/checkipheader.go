// File: elements/ip/checkipheader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ip

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/momentics/hioload-accel/element"
)

// Drop reasons of CheckIPHeader.
const (
	DropNotIPv4 = iota
	DropVersion
	DropLength
	DropChecksum

	numDropReasons
)

// CheckIPHeader kills frames that are not well-formed IPv4 and pushes the
// rest to port 0.
type CheckIPHeader struct {
	drops [numDropReasons]atomic.Uint64
}

// NewCheckIPHeader returns the element.
func NewCheckIPHeader() *CheckIPHeader { return &CheckIPHeader{} }

func (e *CheckIPHeader) Name() string { return "CheckIPHeader" }

func (e *CheckIPHeader) Process(_ int, p *element.Packet, out element.Output) {
	if reason, ok := e.check(p.Data()); !ok {
		e.drops[reason].Add(1)
		p.Kill()
		return
	}
	out.Push(0, p)
}

func (e *CheckIPHeader) check(frame []byte) (int, bool) {
	hdr, err := ipv4Header(frame)
	if err != nil {
		return DropNotIPv4, false
	}
	version, ihl := hdr[0]>>4, int(hdr[0]&0x0F)
	if version != 4 || ihl < 5 {
		return DropVersion, false
	}
	totLen := int(binary.BigEndian.Uint16(hdr[2:4]))
	if ihl*4 > totLen || ihl*4 > len(hdr) {
		return DropLength, false
	}
	if checksumFold(hdr[:ihl*4]) != 0 {
		return DropChecksum, false
	}
	return 0, true
}

// Drops returns the number of packets killed for reason.
func (e *CheckIPHeader) Drops(reason int) uint64 { return e.drops[reason].Load() }
