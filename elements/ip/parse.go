// File: elements/ip/parse.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ip

import (
	"encoding/binary"
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var errNotIPv4 = errors.New("not an IPv4 frame")

// ipv4Header returns the IPv4 header bytes of an Ethernet frame.
func ipv4Header(frame []byte) ([]byte, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	if eth.EthernetType != layers.EthernetTypeIPv4 || len(eth.Payload) < 20 {
		return nil, errNotIPv4
	}
	return eth.Payload, nil
}

// dstAddr returns the host-order destination address of frame.
func dstAddr(frame []byte) (uint32, error) {
	hdr, err := ipv4Header(frame)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(hdr[16:20]), nil
}

// checksumFold is the one's complement sum of hdr; zero for a valid header.
func checksumFold(hdr []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(hdr); i += 2 {
		sum += uint32(hdr[i])<<8 | uint32(hdr[i+1])
	}
	if len(hdr)%2 == 1 {
		sum += uint32(hdr[len(hdr)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xFFFF + sum>>16
	}
	return ^uint16(sum)
}
