// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package kernels

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/ipv4route"
	"github.com/momentics/hioload-accel/pool"
)

func TestDefaultTable(t *testing.T) {
	ids := Default.IDs()
	if len(ids) != 3 || ids[0] != IDNoop || ids[2] != IDIPv4Lookup {
		t.Fatalf("ids %v", ids)
	}
	if h := Builtin(IDIPv4Lookup); h.Func == nil || h.ID != IDIPv4Lookup || h.Name == "" {
		t.Fatalf("handle %+v", h)
	}
	if err := Default.Register(IDCopy, "dup", Noop); !errors.Is(err, api.ErrAlreadyExists) {
		t.Fatalf("duplicate register: %v", err)
	}
	if _, ok := Default.Lookup(99); ok {
		t.Fatal("unknown id resolved")
	}
}

func block(t *testing.T, mem *pool.MemSpace, inSize, outSize, count int) (api.DevicePtr, api.DevicePtr, []api.KernelArg) {
	t.Helper()
	in, err := mem.Alloc(inSize, 8)
	if err != nil {
		t.Fatal(err)
	}
	out, err := mem.Alloc(outSize, 8)
	if err != nil {
		t.Fatal(err)
	}
	return in, out, []api.KernelArg{api.PtrArg(in), api.PtrArg(out), api.Uint32Arg(uint32(count))}
}

func TestCopyKernel(t *testing.T) {
	mem := pool.NewMemSpace()
	in, out, args := block(t, mem, 64, 64, 8)
	args = append(args, api.Uint32Arg(8))
	src, _ := mem.Resolve(in, 64)
	for i := range src {
		src[i] = byte(i)
	}
	for _, r := range (api.ResourceParam{NumWorkItems: 8, NumWorkgroups: 3, NumThreadsPerWorkgroup: 3}).Workgroups() {
		if err := Copy(mem, args, r); err != nil {
			t.Fatal(err)
		}
	}
	dst, _ := mem.Resolve(out, 64)
	for i := range dst {
		if dst[i] != byte(i) {
			t.Fatalf("byte %d = %d", i, dst[i])
		}
	}
}

func TestIPv4LookupKernel(t *testing.T) {
	tbl, err := ipv4route.Build([]ipv4route.Route{
		{Prefix: 0x0A000000, Len: 8, NextHop: 1},
		{Prefix: 0x0A010280, Len: 25, NextHop: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	mem := pool.NewMemSpace()
	p24, _ := mem.Alloc(ipv4route.EncodedSize(len(tbl.TBL24)), 64)
	plong, _ := mem.Alloc(ipv4route.EncodedSize(len(tbl.TBLlong)), 64)
	b24, _ := mem.Resolve(p24, ipv4route.EncodedSize(len(tbl.TBL24)))
	blong, _ := mem.Resolve(plong, ipv4route.EncodedSize(len(tbl.TBLlong)))
	ipv4route.Encode(b24, tbl.TBL24)
	ipv4route.Encode(blong, tbl.TBLlong)

	addrs := []uint32{0x0A090909, 0x0A010281, 0x0A010201, 0x0B000001}
	want := []uint16{1, 3, 1, ipv4route.Miss}
	in, out, args := block(t, mem, len(addrs)*IPv4AddrSize, len(addrs)*NextHopSize, len(addrs))
	args = append(args, api.PtrArg(p24), api.PtrArg(plong))
	ib, _ := mem.Resolve(in, len(addrs)*IPv4AddrSize)
	for i, a := range addrs {
		binary.LittleEndian.PutUint32(ib[i*IPv4AddrSize:], a)
	}
	if err := IPv4Lookup(mem, args, api.WorkRange{Begin: 0, End: len(addrs)}); err != nil {
		t.Fatal(err)
	}
	ob, _ := mem.Resolve(out, len(addrs)*NextHopSize)
	for i := range addrs {
		if got := binary.LittleEndian.Uint16(ob[i*NextHopSize:]); got != want[i] {
			t.Errorf("addr %08x -> %d want %d", addrs[i], got, want[i])
		}
	}
}

func TestKernelRejectsShortArgs(t *testing.T) {
	mem := pool.NewMemSpace()
	if err := IPv4Lookup(mem, []api.KernelArg{api.Uint32Arg(1)}, api.WorkRange{End: 1}); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("err %v", err)
	}
}
