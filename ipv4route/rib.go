// File: ipv4route/rib.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Text RIB loader. One route per line: "a.b.c.d/len next_hop".
// Blank lines and lines starting with '#' are ignored.

package ipv4route

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

// ParseRIB reads routes from r.
func ParseRIB(r io.Reader) ([]Route, error) {
	var out []Route
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("rib line %d: expected \"prefix next_hop\", got %q", line, text)
		}
		pfx, err := netip.ParsePrefix(fields[0])
		if err != nil || !pfx.Addr().Is4() {
			return nil, fmt.Errorf("rib line %d: bad IPv4 prefix %q", line, fields[0])
		}
		nh, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil || nh > MaxNextHop {
			return nil, fmt.Errorf("rib line %d: bad next hop %q", line, fields[1])
		}
		a := pfx.Addr().As4()
		out = append(out, Route{
			Prefix:  uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3]),
			Len:     uint8(pfx.Bits()),
			NextHop: uint16(nh),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadRIB reads routes from a file.
func LoadRIB(path string) ([]Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRIB(f)
}
