// Package flow defines the per-flow record the cache maintains: the
// aggregated counters, key fields, and the chain of protocol-plugin
// extensions attached to it. Grounded on original_source/include/
// ipfixprobe/flowifc.hpp, with the intrusive linked-list extension chain
// replaced by an owned slice.
package flow

import (
	"net"
	"time"
)

// EndReason records why a flow was exported.
type EndReason uint8

const (
	EndReasonNone EndReason = iota
	EndReasonInactive
	EndReasonActive
	EndReasonEOF
	EndReasonForced
	EndReasonNoResources
)

func (r EndReason) String() string {
	switch r {
	case EndReasonInactive:
		return "inactive"
	case EndReasonActive:
		return "active"
	case EndReasonEOF:
		return "eof"
	case EndReasonForced:
		return "forced"
	case EndReasonNoResources:
		return "no_resources"
	default:
		return "none"
	}
}

// IPFIXField describes one field an extension contributes to a template:
// the enterprise number (0 for IANA-assigned elements), element ID, and
// encoded length (-1 for variable-length, IPFIX's 0xFFFF marker).
type IPFIXField struct {
	EnterpriseNumber uint32
	ElementID        uint16
	Length           int
}

// Extension is the capability set a process plugin attaches to a flow.
// Identified by a small integer ID assigned once at plugin registration
// (see internal/plugin), at most one instance per ID per flow.
type Extension interface {
	ID() int
	FillIPFIX(buf []byte) (int, error)
	IPFIXTemplate() []IPFIXField
	Text() string
}

// Record is one flow: the aggregated counters and key the cache maintains
// plus whatever extensions process plugins have attached.
type Record struct {
	Hash uint64
	Key  Key

	IPVersion uint8
	Protocol  uint8
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	SrcMAC    net.HardwareAddr
	DstMAC    net.HardwareAddr

	TimeFirst time.Time
	TimeLast  time.Time

	SrcPackets uint64
	DstPackets uint64
	SrcBytes   uint64
	DstBytes   uint64

	SrcTCPFlags uint8
	DstTCPFlags uint8

	EndReason EndReason

	extensions []Extension
}

// Extensions returns the flow's attached extensions in attachment order.
// The returned slice must not be retained past the current hook call
// without copying; callers that need to keep it (the exporter, handing a
// flow to the ring) own the Record itself instead.
func (r *Record) Extensions() []Extension { return r.extensions }

// AddExtension attaches ext to the flow. Returns false without modifying
// the flow if an extension with the same ID is already attached
// (attachment is idempotent within a flow).
func (r *Record) AddExtension(ext Extension) bool {
	for _, e := range r.extensions {
		if e.ID() == ext.ID() {
			return false
		}
	}
	r.extensions = append(r.extensions, ext)
	return true
}

// Extension returns the attached extension with the given ID, if any.
func (r *Record) Extension(id int) (Extension, bool) {
	for _, e := range r.extensions {
		if e.ID() == id {
			return e, true
		}
	}
	return nil, false
}

// ExtensionBits returns the bitset of attached extension IDs, used as half
// of the IPFIX template identity key. IDs >= 64 are not representable; the registry enforces
// that limit at allocation time.
func (r *Record) ExtensionBits() uint64 {
	var bits uint64
	for _, e := range r.extensions {
		if id := e.ID(); id >= 0 && id < 64 {
			bits |= 1 << uint(id)
		}
	}
	return bits
}

// reset clears counters and re-seeds TimeFirst/TimeLast from ts, stripping
// all extensions, for the flush-with-reinsert path (see DESIGN.md: counters
// reset, both timestamps take the new packet's time).
func (r *Record) reset(key Key, hash uint64, ts time.Time) {
	r.Key = key
	r.Hash = hash
	r.SrcPackets, r.DstPackets = 0, 0
	r.SrcBytes, r.DstBytes = 0, 0
	r.SrcTCPFlags, r.DstTCPFlags = 0, 0
	r.EndReason = EndReasonNone
	r.TimeFirst = ts
	r.TimeLast = ts
	r.extensions = r.extensions[:0]
}

// Reset is the exported form of reset, used by the cache package.
func (r *Record) Reset(key Key, hash uint64, ts time.Time) { r.reset(key, hash, ts) }
