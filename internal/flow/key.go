package flow

import (
	"bytes"
	"net"

	"github.com/cespare/xxhash/v2"
	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
)

// Key is the canonical 5-tuple (plus IP version) the cache hashes on.
// IPs are stored in 16 bytes (an IPv4 address fills the last 4 bytes and
// the first 12 are zero) so the key is a
// fixed-size, directly hashable value, matching the original's FCHash
// byte-layout grounding (record.hpp hashes a flat byte buffer, not a
// variable-width struct).
type Key struct {
	IPVersion uint8
	Protocol  uint8
	SrcIP     [16]byte
	DstIP     [16]byte
	SrcPort   uint16
	DstPort   uint16
}

// bytes renders the key into a fixed 38-byte buffer in a stable field
// order, the input to the hash function.
func (k Key) bytes() [38]byte {
	var b [38]byte
	b[0] = k.IPVersion
	b[1] = k.Protocol
	copy(b[2:18], k.SrcIP[:])
	copy(b[18:34], k.DstIP[:])
	b[34] = byte(k.SrcPort >> 8)
	b[35] = byte(k.SrcPort)
	b[36] = byte(k.DstPort >> 8)
	b[37] = byte(k.DstPort)
	return b
}

// Hash returns the 64-bit xxHash of the canonical key. The original C++
// source (storage/basic/record.hpp) hashes FCHash with xxHash; this is the
// direct Go equivalent via github.com/cespare/xxhash/v2.
func (k Key) Hash() uint64 {
	b := k.bytes()
	return xxhash.Sum64(b[:])
}

func to16(ip net.IP) [16]byte {
	var out [16]byte
	if v4 := ip.To4(); v4 != nil {
		copy(out[12:], v4)
	} else if v6 := ip.To16(); v6 != nil {
		copy(out[:], v6)
	}
	return out
}

// ForwardKey builds the key as (src -> dst) from the packet's own fields.
func ForwardKey(p *packet.Packet) Key {
	return Key{
		IPVersion: p.IPVersion,
		Protocol:  p.Protocol,
		SrcIP:     to16(p.SrcIP),
		DstIP:     to16(p.DstIP),
		SrcPort:   p.SrcPort,
		DstPort:   p.DstPort,
	}
}

// ReverseKey builds the key as (dst -> src), the direction the cache
// probes second when biflow splitting is off.
func ReverseKey(p *packet.Packet) Key {
	return Key{
		IPVersion: p.IPVersion,
		Protocol:  p.Protocol,
		SrcIP:     to16(p.DstIP),
		DstIP:     to16(p.SrcIP),
		SrcPort:   p.DstPort,
		DstPort:   p.SrcPort,
	}
}

// CanonicalBiflowKey orders the (src,dst) pair by (port, IP) lexicographic
// comparison (lower port first, then lower address) so both directions of
// a conversation hash to the same key; reversed reports whether the
// packet's own endpoints were swapped. The cache does not call it.
// Grounded on
// original_source/storage/basic/hashtablestore.cpp's
// HTFlowsStorePacketInfo::from_packet bidir branch.
func CanonicalBiflowKey(p *packet.Packet) (key Key, reversed bool) {
	srcIP, dstIP := to16(p.SrcIP), to16(p.DstIP)

	swap := false
	if p.SrcPort != p.DstPort {
		swap = p.SrcPort > p.DstPort
	} else {
		swap = bytes.Compare(srcIP[:], dstIP[:]) > 0
	}

	if !swap {
		return Key{
			IPVersion: p.IPVersion,
			Protocol:  p.Protocol,
			SrcIP:     srcIP,
			DstIP:     dstIP,
			SrcPort:   p.SrcPort,
			DstPort:   p.DstPort,
		}, false
	}

	return Key{
		IPVersion: p.IPVersion,
		Protocol:  p.Protocol,
		SrcIP:     dstIP,
		DstIP:     srcIP,
		SrcPort:   p.DstPort,
		DstPort:   p.SrcPort,
	}, true
}
