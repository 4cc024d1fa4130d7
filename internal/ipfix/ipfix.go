// Package ipfix encodes flow.Record values into IPFIX messages (RFC 7011)
// and ships them to a collector over TCP or UDP. Grounded on
// original_source/output/ipfix.hpp/.cpp; framing constants are carried
// over unchanged from the original's #defines.
package ipfix

import "time"

// Wire constants, unchanged from original_source/output/ipfix.hpp.
const (
	Version             uint16 = 10
	TemplateSetID        uint16 = 2
	FirstTemplateID      uint16 = 258
	HeaderSize                  = 16
	SetHeaderSize               = 4
	DefaultMTU                  = 1458
	DefaultReconnectWait        = 60 * time.Second
	DefaultTemplateRefreshTime  = 600 * time.Second
)

// DefaultTemplateRefreshPackets is the default for
// TransportConfig.TemplateRefreshPkt (0 disables the count-based refresh).
// When non-zero, a UDP template retransmission is forced once that many
// data records (AddRecord calls) have been added under one template since
// the last template send, in addition to the time-based refresh; exported
// messages are not counted.
const DefaultTemplateRefreshPackets = 0

// Header is the 16-byte IPFIX message header (RFC 7011 §3.1).
type Header struct {
	Version            uint16
	Length             uint16
	ExportTime         uint32
	SequenceNumber     uint32
	ObservationDomainID uint32
}

// Encode writes h into buf (must be at least HeaderSize bytes).
func (h Header) Encode(buf []byte) {
	be16(buf[0:2], h.Version)
	be16(buf[2:4], h.Length)
	be32(buf[4:8], h.ExportTime)
	be32(buf[8:12], h.SequenceNumber)
	be32(buf[12:16], h.ObservationDomainID)
}

// SetHeader is the 4-byte header in front of every template or data set.
type SetHeader struct {
	ID     uint16
	Length uint16
}

// Encode writes h into buf (must be at least SetHeaderSize bytes).
func (h SetHeader) Encode(buf []byte) {
	be16(buf[0:2], h.ID)
	be16(buf[2:4], h.Length)
}

func be16(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}

func be32(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}
