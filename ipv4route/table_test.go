// Copyright 2025 momentics@gmail.com
// License: Apache-2.0

package ipv4route

import (
	"strings"
	"testing"
)

func ip(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

func TestLookupLongestPrefix(t *testing.T) {
	tbl, err := Build([]Route{
		{Prefix: ip(10, 0, 0, 0), Len: 8, NextHop: 1},
		{Prefix: ip(10, 1, 0, 0), Len: 16, NextHop: 2},
		{Prefix: ip(10, 1, 2, 128), Len: 25, NextHop: 3},
		{Prefix: ip(10, 1, 2, 200), Len: 32, NextHop: 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		addr uint32
		want uint16
	}{
		{ip(10, 9, 9, 9), 1},
		{ip(10, 1, 9, 9), 2},
		{ip(10, 1, 2, 1), 2},
		{ip(10, 1, 2, 129), 3},
		{ip(10, 1, 2, 200), 4},
		{ip(11, 0, 0, 1), Miss},
	}
	for _, c := range cases {
		if got := tbl.Lookup(c.addr); got != c.want {
			t.Errorf("lookup %08x = %d want %d", c.addr, got, c.want)
		}
	}
}

func TestLookupEmptyTableMisses(t *testing.T) {
	tbl, err := Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Lookup(ip(1, 2, 3, 4)) != Miss {
		t.Fatal("empty table did not miss")
	}
}

func TestEncodedLookupMatches(t *testing.T) {
	tbl, _ := Build([]Route{
		{Prefix: ip(192, 168, 0, 0), Len: 16, NextHop: 7},
		{Prefix: ip(192, 168, 1, 0), Len: 28, NextHop: 9},
	})
	b24 := make([]byte, EncodedSize(len(tbl.TBL24)))
	blong := make([]byte, EncodedSize(len(tbl.TBLlong)))
	Encode(b24, tbl.TBL24)
	Encode(blong, tbl.TBLlong)
	for _, a := range []uint32{ip(192, 168, 5, 5), ip(192, 168, 1, 3), ip(192, 168, 1, 100), ip(8, 8, 8, 8)} {
		if got, want := EncodedLookup(b24, blong, a), tbl.Lookup(a); got != want {
			t.Errorf("encoded lookup %08x = %d, table says %d", a, got, want)
		}
	}
	if back := Decode(blong); len(back) != len(tbl.TBLlong) || back[0] != tbl.TBLlong[0] {
		t.Fatal("decode mismatch")
	}
}

func TestBuildRejectsBadRoutes(t *testing.T) {
	if _, err := Build([]Route{{Prefix: 0, Len: 33, NextHop: 1}}); err == nil {
		t.Error("length 33 accepted")
	}
	if _, err := Build([]Route{{Prefix: 0, Len: 8, NextHop: 0x8000}}); err == nil {
		t.Error("next hop 0x8000 accepted")
	}
}

func TestParseRIB(t *testing.T) {
	routes, err := ParseRIB(strings.NewReader(`# sample
10.0.0.0/8 1

192.168.1.0/24 2
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) != 2 || routes[1].Prefix != ip(192, 168, 1, 0) || routes[1].Len != 24 || routes[1].NextHop != 2 {
		t.Fatalf("routes %v", routes)
	}
	if _, err := ParseRIB(strings.NewReader("10.0.0.0/8\n")); err == nil {
		t.Error("missing next hop accepted")
	}
	if _, err := ParseRIB(strings.NewReader("::1/128 3\n")); err == nil {
		t.Error("IPv6 prefix accepted")
	}
}
