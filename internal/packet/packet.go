// Package packet defines the parsed-packet data model that is the sole
// input to the flow cache core. Everything upstream of a Packet (capture,
// L2-L4 decoding) is an external collaborator; the core only depends on
// this struct's fields.
package packet

import (
	"net"
	"time"
)

// TCP control bits, matching the wire layout (not host byte-swapped).
const (
	TCPFin = 0x01
	TCPSyn = 0x02
	TCPRst = 0x04
	TCPPsh = 0x08
	TCPAck = 0x10
	TCPUrg = 0x20
	TCPEce = 0x40
	TCPCwr = 0x80
)

// IP protocol numbers used by the cache and plugins; re-exported here so
// callers do not need to import golang.org/x/net/ipv4 just for constants.
const (
	ProtoICMP   = 1
	ProtoTCP    = 6
	ProtoUDP    = 17
	ProtoICMPv6 = 58
)

// Direction records which side of a flow a packet belongs to, set by the
// cache once the packet has been matched against a forward or reverse key.
type Direction uint8

const (
	// DirectionUnknown is the zero value, set by the parser before the
	// cache has classified the packet.
	DirectionUnknown Direction = iota
	DirectionForward
	DirectionReverse
)

// Packet is the parsed representation of one captured frame: L2
// addressing, IP header fields, L4 ports and TCP control state, and a
// payload slice that plugins may inspect but not retain past the current
// hook call without copying.
type Packet struct {
	Timestamp time.Time

	SrcMAC, DstMAC net.HardwareAddr
	EtherType      uint16

	IPVersion uint8
	Protocol  uint8
	TTL       uint8
	TOS       uint8
	IPFlags   uint8

	TotalLength    uint16
	PayloadLength  uint16
	PayloadLenOrig uint16

	SrcIP, DstIP net.IP
	SrcPort      uint16
	DstPort      uint16

	TCPFlags   uint8
	TCPSeq     uint32
	TCPAck     uint32
	TCPWindow  uint16
	TCPOptions []byte
	TCPMSS     uint16

	Payload []byte
	WireLen int

	Direction Direction

	// Raw holds the undecoded frame bytes, set by sources that capture
	// one (not every source does). Used only by the optional pcap trace
	// sink; the cache and plugins never read it.
	Raw []byte
}

// HasTCPFlag reports whether all bits in mask are set in the packet's TCP
// control bits. Meaningless for non-TCP packets.
func (p *Packet) HasTCPFlag(mask uint8) bool {
	return p.TCPFlags&mask == mask
}
