package packet

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Decoder turns a raw captured frame into a Packet using gopacket's layer
// parsers. This is the one concrete L2-L4 parser this repo ships; capture
// backends that hand raw bytes instead of a Source-native format (TZSP, a
// future raw pcap input) funnel through it. Generalized from a
// PacketInfo-shaped decoder to the core's packet.Packet.
type Decoder struct {
	parser *gopacket.DecodingLayerParser

	eth  layers.Ethernet
	ip4  layers.IPv4
	ip6  layers.IPv6
	tcp  layers.TCP
	udp  layers.UDP
	icmp layers.ICMPv4

	decoded []gopacket.LayerType
}

// NewDecoder builds a reusable Decoder. Reuse across calls to Decode
// avoids allocating the layer structs per packet.
func NewDecoder() *Decoder {
	d := &Decoder{decoded: make([]gopacket.LayerType, 0, 8)}
	d.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&d.eth, &d.ip4, &d.ip6, &d.tcp, &d.udp, &d.icmp,
	)
	// Layers this parser has no decoder for (application payload and
	// other protocols) end decoding instead of being reported as errors.
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode parses raw bytes captured at ts into a Packet. wireLen is the
// original on-wire length when the capture snaplen truncated data (0 means
// "same as len(data)").
func (d *Decoder) Decode(data []byte, ts time.Time, wireLen int) (Packet, error) {
	if wireLen <= 0 {
		wireLen = len(data)
	}

	p := Packet{
		Timestamp: ts,
		WireLen:   wireLen,
		Payload:   data,
	}

	if err := d.parser.DecodeLayers(data, &d.decoded); err != nil {
		if _, ok := err.(gopacket.UnsupportedLayerType); !ok {
			return p, err
		}
	}

	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeEthernet:
			p.SrcMAC = d.eth.SrcMAC
			p.DstMAC = d.eth.DstMAC
			p.EtherType = uint16(d.eth.EthernetType)
		case layers.LayerTypeIPv4:
			p.IPVersion = 4
			p.SrcIP = d.ip4.SrcIP
			p.DstIP = d.ip4.DstIP
			p.Protocol = uint8(d.ip4.Protocol)
			p.TTL = d.ip4.TTL
			p.TOS = d.ip4.TOS
			p.IPFlags = uint8(d.ip4.Flags)
			p.TotalLength = d.ip4.Length
			p.PayloadLength = d.ip4.Length - uint16(d.ip4.IHL)*4
			p.PayloadLenOrig = p.PayloadLength
		case layers.LayerTypeIPv6:
			p.IPVersion = 6
			p.SrcIP = d.ip6.SrcIP
			p.DstIP = d.ip6.DstIP
			p.Protocol = uint8(d.ip6.NextHeader)
			p.TTL = d.ip6.HopLimit
			p.TOS = d.ip6.TrafficClass
			p.TotalLength = d.ip6.Length + 40
			p.PayloadLength = d.ip6.Length
			p.PayloadLenOrig = p.PayloadLength
		case layers.LayerTypeTCP:
			p.SrcPort = uint16(d.tcp.SrcPort)
			p.DstPort = uint16(d.tcp.DstPort)
			p.TCPSeq = d.tcp.Seq
			p.TCPAck = d.tcp.Ack
			p.TCPWindow = d.tcp.Window
			p.TCPOptions = encodeTCPOptions(d.tcp.Options)
			p.TCPFlags = tcpFlagBits(&d.tcp)
			for _, opt := range d.tcp.Options {
				if opt.OptionType == layers.TCPOptionKindMSS && len(opt.OptionData) == 2 {
					p.TCPMSS = uint16(opt.OptionData[0])<<8 | uint16(opt.OptionData[1])
				}
			}
		case layers.LayerTypeUDP:
			p.SrcPort = uint16(d.udp.SrcPort)
			p.DstPort = uint16(d.udp.DstPort)
		case layers.LayerTypeICMPv4:
			// No ports; type/code are carried in the payload by
			// convention for plugins that care.
		}
	}

	return p, nil
}

func tcpFlagBits(tcp *layers.TCP) uint8 {
	var f uint8
	if tcp.FIN {
		f |= TCPFin
	}
	if tcp.SYN {
		f |= TCPSyn
	}
	if tcp.RST {
		f |= TCPRst
	}
	if tcp.PSH {
		f |= TCPPsh
	}
	if tcp.ACK {
		f |= TCPAck
	}
	if tcp.URG {
		f |= TCPUrg
	}
	if tcp.ECE {
		f |= TCPEce
	}
	if tcp.CWR {
		f |= TCPCwr
	}
	return f
}

func encodeTCPOptions(opts []layers.TCPOption) []byte {
	var out []byte
	for _, o := range opts {
		out = append(out, byte(o.OptionType))
		out = append(out, o.OptionData...)
	}
	return out
}
