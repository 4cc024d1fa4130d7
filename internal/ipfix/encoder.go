package ipfix

import (
	"errors"
	"fmt"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
)

// ErrRecordTooLarge marks an encoding failure caused by the record not
// fitting the available buffer, as opposed to a transport or logic
// error. Callers treat it as a counted drop rather than a fatal error.
var ErrRecordTooLarge = errors.New("ipfix: record too large to encode")

// EncodeRecord writes rec's base fields, in the exact order baseFields
// declares them, followed by each attached extension's payload in
// attachment order. Returns bytes written, or an ErrRecordTooLarge-
// wrapping error if buf cannot hold the fixed fields or an extension's
// payload.
func EncodeRecord(rec *flow.Record, buf []byte) (int, error) {
	const commonSize = 1 + 2 + 2 + 8 + 8 + 8 + 8 + 1 + 8 + 8 + 1
	ipFieldsSize := 8
	if rec.IPVersion != 4 {
		ipFieldsSize = 32
	}
	fixedSize := commonSize + ipFieldsSize
	if len(buf) < fixedSize {
		return 0, fmt.Errorf("%w: need %d for fixed fields, have %d", ErrRecordTooLarge, fixedSize, len(buf))
	}

	off := 0
	if rec.IPVersion == 4 {
		copy(buf[off:off+4], rec.SrcIP.To4())
		off += 4
		copy(buf[off:off+4], rec.DstIP.To4())
		off += 4
	} else {
		copy(buf[off:off+16], rec.SrcIP.To16())
		off += 16
		copy(buf[off:off+16], rec.DstIP.To16())
		off += 16
	}

	buf[off] = rec.Protocol
	off++
	be16(buf[off:off+2], rec.SrcPort)
	off += 2
	be16(buf[off:off+2], rec.DstPort)
	off += 2

	be64(buf[off:off+8], uint64(rec.TimeFirst.UnixMilli()))
	off += 8
	be64(buf[off:off+8], uint64(rec.TimeLast.UnixMilli()))
	off += 8

	be64(buf[off:off+8], rec.SrcPackets)
	off += 8
	be64(buf[off:off+8], rec.SrcBytes)
	off += 8
	buf[off] = rec.SrcTCPFlags
	off++

	be64(buf[off:off+8], rec.DstPackets)
	off += 8
	be64(buf[off:off+8], rec.DstBytes)
	off += 8
	buf[off] = rec.DstTCPFlags
	off++

	for _, ext := range rec.Extensions() {
		n, err := ext.FillIPFIX(buf[off:])
		if err != nil {
			return 0, fmt.Errorf("%w: extension %d: %v", ErrRecordTooLarge, ext.ID(), err)
		}
		off += n
	}

	return off, nil
}

func be64(buf []byte, v uint64) {
	buf[0] = byte(v >> 56)
	buf[1] = byte(v >> 48)
	buf[2] = byte(v >> 40)
	buf[3] = byte(v >> 32)
	buf[4] = byte(v >> 24)
	buf[5] = byte(v >> 16)
	buf[6] = byte(v >> 8)
	buf[7] = byte(v)
}
