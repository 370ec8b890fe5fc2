// File: ipv4route/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package ipv4route implements a two-level direct IPv4 forwarding table.
// TBL24 is indexed by the top 24 address bits; entries with bit 15 set
// point at a 256-entry TBLlong group indexed by the low 8 bits.
package ipv4route

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/momentics/hioload-accel/api"
)

const (
	// TBL24Size is the number of TBL24 entries.
	TBL24Size = 1 << 24
	// GroupSize is the number of entries per TBLlong group.
	GroupSize = 256
	// Miss is the lookup result for unroutable addresses.
	Miss uint16 = 0xFFFF
	// MaxNextHop is the largest storable next hop.
	MaxNextHop = 0x7FFF
	// MaxGroups bounds TBLlong so that no group reference equals Miss.
	MaxGroups = 0x7FFF

	longFlag = 0x8000
)

// Route is one RIB entry.
type Route struct {
	Prefix  uint32
	Len     uint8
	NextHop uint16
}

func (r Route) String() string {
	return fmt.Sprintf("%d.%d.%d.%d/%d -> %d", byte(r.Prefix>>24), byte(r.Prefix>>16), byte(r.Prefix>>8), byte(r.Prefix), r.Len, r.NextHop)
}

// Table is a built forwarding table.
type Table struct {
	TBL24   []uint16
	TBLlong []uint16
}

func mask(l uint8) uint32 {
	if l == 0 {
		return 0
	}
	return ^uint32(0) << (32 - uint32(l))
}

// Build creates a forwarding table from routes. Longer prefixes win; among
// equal prefixes the later route wins.
func Build(routes []Route) (*Table, error) {
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Len < sorted[j].Len })

	t := &Table{TBL24: make([]uint16, TBL24Size)}
	for i := range t.TBL24 {
		t.TBL24[i] = Miss
	}
	for _, r := range sorted {
		if r.Len > 32 {
			return nil, fmt.Errorf("%w: prefix length %d", api.ErrInvalidArgument, r.Len)
		}
		if r.NextHop > MaxNextHop {
			return nil, fmt.Errorf("%w: next hop %d exceeds %d", api.ErrInvalidArgument, r.NextHop, MaxNextHop)
		}
		prefix := r.Prefix & mask(r.Len)
		if r.Len <= 24 {
			start := prefix >> 8
			for i := uint32(0); i < 1<<(24-uint32(r.Len)); i++ {
				t.TBL24[start+i] = r.NextHop
			}
			continue
		}
		idx := prefix >> 8
		e := t.TBL24[idx]
		var group int
		if e != Miss && e&longFlag != 0 {
			group = int(e &^ longFlag)
		} else {
			group = len(t.TBLlong) / GroupSize
			if group >= MaxGroups {
				return nil, fmt.Errorf("%w: more than %d long-prefix groups", api.ErrResourceExhausted, MaxGroups)
			}
			for i := 0; i < GroupSize; i++ {
				t.TBLlong = append(t.TBLlong, e)
			}
			t.TBL24[idx] = longFlag | uint16(group)
		}
		base := group*GroupSize + int(prefix&0xFF)
		for i := 0; i < 1<<(32-uint32(r.Len)); i++ {
			t.TBLlong[base+i] = r.NextHop
		}
	}
	return t, nil
}

// Lookup returns the next hop of addr or Miss.
func (t *Table) Lookup(addr uint32) uint16 {
	return DirectLookup(t.TBL24, t.TBLlong, addr)
}

// DirectLookup resolves addr against raw tables in O(1).
func DirectLookup(tbl24, tbllong []uint16, addr uint32) uint16 {
	e := tbl24[addr>>8]
	if e == Miss || e&longFlag == 0 {
		return e
	}
	i := int(e&^longFlag)*GroupSize + int(addr&0xFF)
	if i >= len(tbllong) {
		return Miss
	}
	return tbllong[i]
}

// EncodedSize returns the byte size of an encoded table of n entries.
func EncodedSize(n int) int { return 2 * n }

// Encode writes entries little-endian into dst.
func Encode(dst []byte, tbl []uint16) {
	for i, v := range tbl {
		binary.LittleEndian.PutUint16(dst[2*i:], v)
	}
}

// Decode reads little-endian entries written by Encode.
func Decode(src []byte) []uint16 {
	out := make([]uint16, len(src)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(src[2*i:])
	}
	return out
}

// EncodedLookup resolves addr against encoded tables. tbllong may be shorter
// than the referenced group, in which case the lookup misses.
func EncodedLookup(tbl24, tbllong []byte, addr uint32) uint16 {
	e := binary.LittleEndian.Uint16(tbl24[2*(addr>>8):])
	if e == Miss || e&longFlag == 0 {
		return e
	}
	i := 2 * (int(e&^longFlag)*GroupSize + int(addr&0xFF))
	if i+2 > len(tbllong) {
		return Miss
	}
	return binary.LittleEndian.Uint16(tbllong[i:])
}
