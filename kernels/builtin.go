// File: kernels/builtin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package kernels

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/ipv4route"
)

const (
	// IPv4AddrSize is the input record of IPv4Lookup: a host-order address,
	// little-endian.
	IPv4AddrSize = 4
	// NextHopSize is the output record of IPv4Lookup.
	NextHopSize = 2
)

// Block is a decoded datablock argument header.
type Block struct {
	In    api.DevicePtr
	Out   api.DevicePtr
	Count int
}

// DecodeBlock reads the first three datablock arguments and requires at
// least extra element arguments after them.
func DecodeBlock(args []api.KernelArg, extra int) (Block, error) {
	if len(args) < 3+extra {
		return Block{}, fmt.Errorf("%w: %d kernel arguments, need %d", api.ErrInvalidArgument, len(args), 3+extra)
	}
	in, err := args[0].Ptr()
	if err != nil {
		return Block{}, err
	}
	out, err := args[1].Ptr()
	if err != nil {
		return Block{}, err
	}
	n, err := args[2].Uint32()
	if err != nil {
		return Block{}, err
	}
	return Block{In: in, Out: out, Count: int(n)}, nil
}

// clip bounds a workgroup range to the record count.
func clip(r api.WorkRange, count int) (int, int) {
	begin, end := r.Begin, r.End
	if end > count {
		end = count
	}
	if begin > end {
		begin = end
	}
	return begin, end
}

// Noop does nothing.
func Noop(api.DeviceMemory, []api.KernelArg, api.WorkRange) error { return nil }

// Copy moves records from input to output. args[3] is the record size.
func Copy(mem api.DeviceMemory, args []api.KernelArg, r api.WorkRange) error {
	blk, err := DecodeBlock(args, 1)
	if err != nil {
		return err
	}
	rec, err := args[3].Uint32()
	if err != nil {
		return err
	}
	begin, end := clip(r, blk.Count)
	if begin == end {
		return nil
	}
	off, n := begin*int(rec), (end-begin)*int(rec)
	src, err := mem.Resolve(blk.In.Add(off), n)
	if err != nil {
		return err
	}
	dst, err := mem.Resolve(blk.Out.Add(off), n)
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// IPv4Lookup resolves destination addresses against encoded TBL24 and
// TBLlong tables. args[3] is TBL24, args[4] is TBLlong.
func IPv4Lookup(mem api.DeviceMemory, args []api.KernelArg, r api.WorkRange) error {
	blk, err := DecodeBlock(args, 2)
	if err != nil {
		return err
	}
	p24, err := args[3].Ptr()
	if err != nil {
		return err
	}
	plong, err := args[4].Ptr()
	if err != nil {
		return err
	}
	begin, end := clip(r, blk.Count)
	if begin == end {
		return nil
	}
	tbl24, err := mem.Resolve(p24, ipv4route.EncodedSize(ipv4route.TBL24Size))
	if err != nil {
		return fmt.Errorf("TBL24: %w", err)
	}
	in, err := mem.Resolve(blk.In.Add(begin*IPv4AddrSize), (end-begin)*IPv4AddrSize)
	if err != nil {
		return err
	}
	out, err := mem.Resolve(blk.Out.Add(begin*NextHopSize), (end-begin)*NextHopSize)
	if err != nil {
		return err
	}
	for i := 0; i < end-begin; i++ {
		addr := binary.LittleEndian.Uint32(in[i*IPv4AddrSize:])
		e := binary.LittleEndian.Uint16(tbl24[2*(addr>>8):])
		if e != ipv4route.Miss && e&0x8000 != 0 {
			idx := int(e&0x7FFF)*ipv4route.GroupSize + int(addr&0xFF)
			b, err := mem.Resolve(plong.Add(2*idx), 2)
			if err != nil {
				e = ipv4route.Miss
			} else {
				e = binary.LittleEndian.Uint16(b)
			}
		}
		binary.LittleEndian.PutUint16(out[i*NextHopSize:], e)
	}
	return nil
}
