// Package pstats is a worked example process plugin recording, per flow,
// the size/timestamp/TCP-flags/direction of up to the first MaxElements
// packets. Grounded on original_source/process/pstats.hpp.
package pstats

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
	"github.com/ipfixprobe-go/ipfixprobe/internal/ipfix"
	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
	"github.com/ipfixprobe-go/ipfixprobe/internal/plugin"
)

// MaxElements bounds how many packets' stats one flow records, matching
// the original's PSTATS_MAXELEMCOUNT.
const MaxElements = 30

// CESNETEnterpriseNumber is the PEN the original registers its IPFIX
// fields under (original_source/process/pstats.hpp: CESNET_PEM = 8057).
const CESNETEnterpriseNumber = 8057

// Element IDs, unchanged from the original's eHdrFieldID enum.
const (
	ElementPktSize  uint16 = 1013
	ElementPktTmstp uint16 = 1014
	ElementPktFlags uint16 = 1015
	ElementPktDir   uint16 = 1016
)

const extensionName = "pstats"

var extensionID = plugin.AllocateExtensionID(extensionName)

func init() {
	plugin.Register(extensionName, func() plugin.Plugin { return &Plugin{} })
}

// Extension is the per-flow record pstats attaches: up to MaxElements
// entries of size/timestamp/TCP-flags/direction, encoded as four IPFIX
// basic-list fields.
type Extension struct {
	Sizes      [MaxElements]uint16
	TCPFlags   [MaxElements]uint8
	Timestamps [MaxElements]time.Time
	Dirs       [MaxElements]int8
	Count      int
}

// ID implements flow.Extension.
func (e *Extension) ID() int { return extensionID }

// IPFIXTemplate implements flow.Extension: four variable-length basic-list
// fields, one per recorded attribute.
func (e *Extension) IPFIXTemplate() []flow.IPFIXField {
	return []flow.IPFIXField{
		{EnterpriseNumber: CESNETEnterpriseNumber, ElementID: ElementPktSize, Length: -1},
		{EnterpriseNumber: CESNETEnterpriseNumber, ElementID: ElementPktTmstp, Length: -1},
		{EnterpriseNumber: CESNETEnterpriseNumber, ElementID: ElementPktFlags, Length: -1},
		{EnterpriseNumber: CESNETEnterpriseNumber, ElementID: ElementPktDir, Length: -1},
	}
}

// FillIPFIX serialises the four basic lists into buf in field-declaration
// order, returning bytes written or an error if buf is too small.
// Extensions return bytes written or signal overflow so the encoder can
// flush and retry. Each list is preceded by a one-byte IPFIX
// variable-length prefix; with at most MaxElements entries every list is
// shorter than 255 bytes, so the short form always applies.
func (e *Extension) FillIPFIX(buf []byte) (int, error) {
	n := e.Count
	hdr := ipfix.BasicListHeaderSize(CESNETEnterpriseNumber)
	required := 4 /* one length byte per list */ + hdr*4 +
		n*2 /* sizes: uint16 */ +
		n*8 /* timestamps: 4s+4us */ +
		n*1 /* flags: uint8 */ +
		n*1 /* dirs: int8 */
	if required > len(buf) {
		return 0, fmt.Errorf("pstats: buffer too small: need %d, have %d", required, len(buf))
	}

	off := 0
	buf[off] = byte(hdr + n*2)
	off++
	off += ipfix.EncodeBasicListHeader(buf[off:], ElementPktSize, 2, CESNETEnterpriseNumber)
	for i := 0; i < n; i++ {
		buf[off] = byte(e.Sizes[i] >> 8)
		buf[off+1] = byte(e.Sizes[i])
		off += 2
	}

	buf[off] = byte(hdr + n*8)
	off++
	off += ipfix.EncodeBasicListHeader(buf[off:], ElementPktTmstp, 8, CESNETEnterpriseNumber)
	for i := 0; i < n; i++ {
		sec := uint32(e.Timestamps[i].Unix())
		usec := uint32(e.Timestamps[i].Nanosecond() / 1000)
		buf[off] = byte(sec >> 24)
		buf[off+1] = byte(sec >> 16)
		buf[off+2] = byte(sec >> 8)
		buf[off+3] = byte(sec)
		buf[off+4] = byte(usec >> 24)
		buf[off+5] = byte(usec >> 16)
		buf[off+6] = byte(usec >> 8)
		buf[off+7] = byte(usec)
		off += 8
	}

	buf[off] = byte(hdr + n)
	off++
	off += ipfix.EncodeBasicListHeader(buf[off:], ElementPktFlags, 1, CESNETEnterpriseNumber)
	for i := 0; i < n; i++ {
		buf[off] = e.TCPFlags[i]
		off++
	}

	buf[off] = byte(hdr + n)
	off++
	off += ipfix.EncodeBasicListHeader(buf[off:], ElementPktDir, 1, CESNETEnterpriseNumber)
	for i := 0; i < n; i++ {
		buf[off] = byte(e.Dirs[i])
		off++
	}

	return off, nil
}

// Text implements flow.Extension.
func (e *Extension) Text() string {
	var b strings.Builder
	b.WriteString("ppisizes=(")
	for i := 0; i < e.Count; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(e.Sizes[i])))
	}
	b.WriteString(")")
	return b.String()
}

// Plugin records per-packet stats onto each flow's Extension.
type Plugin struct {
	includeZeroes bool
	skipDup       bool
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return extensionName }

// Init parses "includezeroes,skipdup"-style params (comma-separated
// flags), matching the original's OptionsParser-based i/s flags.
func (p *Plugin) Init(params string) error {
	for _, part := range strings.Split(params, ",") {
		switch strings.TrimSpace(part) {
		case "":
		case "includezeroes", "i":
			p.includeZeroes = true
		case "skipdup", "s":
			p.skipDup = true
		default:
			return fmt.Errorf("pstats: unknown option %q", part)
		}
	}
	return nil
}

// Copy implements plugin.Plugin.
func (p *Plugin) Copy() plugin.Plugin {
	return &Plugin{includeZeroes: p.includeZeroes, skipDup: p.skipDup}
}

// Extension implements plugin.Plugin.
func (p *Plugin) Extension() flow.Extension { return &Extension{} }

// PreCreate implements plugin.Plugin; pstats needs no pre-creation hook.
func (p *Plugin) PreCreate(*packet.Packet) plugin.Flags { return 0 }

// PostCreate attaches a fresh Extension and records the first packet.
func (p *Plugin) PostCreate(r *flow.Record, pkt *packet.Packet) plugin.Flags {
	ext := &Extension{}
	r.AddExtension(ext)
	p.record(ext, pkt)
	return 0
}

// PreUpdate implements plugin.Plugin; pstats has no pre-update behaviour.
func (p *Plugin) PreUpdate(*flow.Record, *packet.Packet) plugin.Flags { return 0 }

// PostUpdate appends the packet to the flow's recorded stats while the
// extension has room. Unless includezeroes is set, non-TCP packets with a
// zero payload length are not recorded. The skipdup option is parsed and
// kept, but no duplicate detection is done.
func (p *Plugin) PostUpdate(r *flow.Record, pkt *packet.Packet) plugin.Flags {
	ext, ok := r.Extension(extensionID)
	if !ok {
		return 0
	}
	e := ext.(*Extension)
	if e.Count >= MaxElements {
		return 0
	}
	if !p.includeZeroes && pkt.PayloadLength == 0 && pkt.Protocol != packet.ProtoTCP {
		return 0
	}
	p.record(e, pkt)
	return 0
}

// PreExport implements plugin.Plugin; nothing to finalise.
func (p *Plugin) PreExport(*flow.Record) {}

// Close implements plugin.Plugin; pstats holds no process-wide resources.
func (p *Plugin) Close(bool) {}

func (p *Plugin) record(e *Extension, pkt *packet.Packet) {
	if e.Count >= MaxElements {
		return
	}
	i := e.Count
	e.Sizes[i] = uint16(pkt.TotalLength)
	e.TCPFlags[i] = pkt.TCPFlags
	e.Timestamps[i] = pkt.Timestamp
	if pkt.Direction == packet.DirectionForward {
		e.Dirs[i] = 1
	} else {
		e.Dirs[i] = -1
	}
	e.Count++
}
