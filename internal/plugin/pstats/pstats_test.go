package pstats

import (
	"net"
	"testing"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
	"github.com/stretchr/testify/require"
)

func testPacket(dir packet.Direction, size uint16, flags uint8, ts time.Time) *packet.Packet {
	return &packet.Packet{
		Timestamp:   ts,
		SrcIP:       net.ParseIP("10.0.0.1"),
		DstIP:       net.ParseIP("10.0.0.2"),
		TotalLength: size,
		TCPFlags:    flags,
		Protocol:    packet.ProtoTCP,
		Direction:   dir,
	}
}

func TestPostCreateRecordsFirstPacket(t *testing.T) {
	p := &Plugin{}
	rec := &flow.Record{}
	ts := time.Unix(100, 0)

	p.PostCreate(rec, testPacket(packet.DirectionForward, 64, packet.TCPSyn, ts))

	ext, ok := rec.Extension(extensionID)
	require.True(t, ok)
	e := ext.(*Extension)
	require.Equal(t, 1, e.Count)
	require.Equal(t, uint16(64), e.Sizes[0])
	require.Equal(t, int8(1), e.Dirs[0])
}

func TestPostUpdateAppendsUntilFull(t *testing.T) {
	p := &Plugin{includeZeroes: true}
	rec := &flow.Record{}
	ts := time.Unix(0, 0)
	p.PostCreate(rec, testPacket(packet.DirectionForward, 1, 0, ts))

	for i := 0; i < MaxElements+5; i++ {
		p.PostUpdate(rec, testPacket(packet.DirectionReverse, 2, 0, ts))
	}

	ext, _ := rec.Extension(extensionID)
	e := ext.(*Extension)
	require.Equal(t, MaxElements, e.Count)
}

func TestFillIPFIXProducesExpectedLength(t *testing.T) {
	p := &Plugin{includeZeroes: true}
	rec := &flow.Record{}
	ts := time.Unix(0, 0)
	p.PostCreate(rec, testPacket(packet.DirectionForward, 40, packet.TCPSyn, ts))
	p.PostUpdate(rec, testPacket(packet.DirectionReverse, 60, packet.TCPAck, ts))

	ext, _ := rec.Extension(extensionID)
	e := ext.(*Extension)

	buf := make([]byte, 256)
	n, err := e.FillIPFIX(buf)
	require.NoError(t, err)
	// 4 one-byte length prefixes, 4 basic-list headers of 9 bytes each
	// (CESNETEnterpriseNumber != 0, so each carries the enterprise number),
	// then 2 entries per list.
	require.Equal(t, 4*1+4*9+2*2+2*8+2*1+2*1, n)
}

func TestFillIPFIXErrorsWhenBufferTooSmall(t *testing.T) {
	p := &Plugin{includeZeroes: true}
	rec := &flow.Record{}
	ts := time.Unix(0, 0)
	p.PostCreate(rec, testPacket(packet.DirectionForward, 40, packet.TCPSyn, ts))

	ext, _ := rec.Extension(extensionID)
	e := ext.(*Extension)

	_, err := e.FillIPFIX(make([]byte, 1))
	require.Error(t, err)
}

func TestInitParsesOptions(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.Init("includezeroes,skipdup"))
	require.True(t, p.includeZeroes)
	require.True(t, p.skipDup)

	p2 := &Plugin{}
	require.Error(t, p2.Init("bogus"))
}
