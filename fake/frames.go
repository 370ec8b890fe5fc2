// File: fake/frames.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Synthetic Ethernet/IPv4 frames for tests and the lookup benchmark command.

package fake

import (
	"encoding/binary"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Frame describes one UDP-over-IPv4 frame.
type Frame struct {
	Src     netip.Addr
	Dst     netip.Addr
	TTL     uint8
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// Serialize encodes f with lengths and checksums filled in.
func (f Frame) Serialize() ([]byte, error) {
	src, dst := f.Src, f.Dst
	if !src.IsValid() {
		src = netip.AddrFrom4([4]byte{192, 0, 2, 1})
	}
	ttl := f.TTL
	if ttl == 0 {
		ttl = 64
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(src.AsSlice()),
		DstIP:    net.IP(dst.AsSlice()),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(f.SrcPort), DstPort: layers.UDPPort(f.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(f.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IPv4Frame returns a minimal valid frame addressed to dst. It panics on an
// invalid address.
func IPv4Frame(dst string) []byte {
	b, err := Frame{Dst: netip.MustParseAddr(dst), DstPort: 9, Payload: make([]byte, 18)}.Serialize()
	if err != nil {
		panic(err)
	}
	return b
}

// IPv4FrameTo is IPv4Frame for a host-order address.
func IPv4FrameTo(addr uint32) []byte {
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], addr)
	return IPv4Frame(netip.AddrFrom4(a).String())
}

// ARPFrame returns a frame whose ether type is not IPv4.
func ARPFrame() []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: []byte{192, 0, 2, 1},
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    []byte{192, 0, 2, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Offsets into an untagged Ethernet/IPv4 frame.
const (
	EtherHeaderLen = 14
	ipChecksumOff  = EtherHeaderLen + 10
)

// CorruptChecksum flips the IPv4 header checksum of frame in place.
func CorruptChecksum(frame []byte) []byte {
	frame[ipChecksumOff] ^= 0xFF
	return frame
}

// SetVersionIHL overwrites the version/IHL byte of frame in place.
func SetVersionIHL(frame []byte, version, ihl uint8) []byte {
	frame[EtherHeaderLen] = version<<4 | ihl&0x0F
	return frame
}
