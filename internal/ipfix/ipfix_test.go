package ipfix

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
	"github.com/stretchr/testify/require"
)

func testRecord() *flow.Record {
	return &flow.Record{
		IPVersion: 4,
		Protocol:  6,
		SrcIP:     net.ParseIP("10.0.0.1"),
		DstIP:     net.ParseIP("10.0.0.2"),
		SrcPort:   1000,
		DstPort:   80,
		TimeFirst: time.Unix(100, 0),
		TimeLast:  time.Unix(101, 0),
		SrcPackets: 3,
		SrcBytes:   300,
		DstPackets: 2,
		DstBytes:   200,
	}
}

func TestTemplateManagerAssignsIncreasingIDs(t *testing.T) {
	m := NewManager()
	t1 := m.TemplateFor(testRecord())
	require.Equal(t, FirstTemplateID, t1.ID)

	// Same shape: same template, same ID.
	t1b := m.TemplateFor(testRecord())
	require.Equal(t, t1.ID, t1b.ID)

	v6 := testRecord()
	v6.IPVersion = 6
	v6.SrcIP = net.ParseIP("::1")
	v6.DstIP = net.ParseIP("::2")
	t2 := m.TemplateFor(v6)
	require.Equal(t, FirstTemplateID+1, t2.ID)
}

func TestEncodeRecordRoundTripsFixedFields(t *testing.T) {
	rec := testRecord()
	buf := make([]byte, 256)
	n, err := EncodeRecord(rec, buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	require.Equal(t, rec.SrcIP.To4(), net.IP(buf[0:4]))
	require.Equal(t, rec.DstIP.To4(), net.IP(buf[4:8]))
	require.Equal(t, rec.Protocol, buf[8])
}

func TestEncodeRecordErrorsOnSmallBuffer(t *testing.T) {
	rec := testRecord()
	_, err := EncodeRecord(rec, make([]byte, 2))
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRecordTooLarge)
}

// AddRecord must report an undersized MTU as ErrRecordTooLarge (a
// counted drop for the caller) rather than a generic transport error,
// and must do so without touching the connection when the message was
// already empty (no network needed for this path).
func TestAddRecordReturnsErrRecordTooLargeWhenMessageCannotHoldOneRecord(t *testing.T) {
	tinyMTU := HeaderSize + SetHeaderSize + 4
	e := &Exporter{
		cfg:          TransportConfig{MTU: tinyMTU},
		mgr:          NewManager(),
		msg:          NewMessageBuilder(tinyMTU, 0),
		pktsSinceTpl: make(map[uint16]int),
	}
	rec := testRecord()
	tmpl := e.mgr.TemplateFor(rec)

	buf := make([]byte, 256)
	n, err := EncodeRecord(rec, buf)
	require.NoError(t, err)

	err = e.AddRecord(context.Background(), tmpl, buf[:n])
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrRecordTooLarge))
}

func TestMessageBuilderRespectsMTU(t *testing.T) {
	b := NewMessageBuilder(HeaderSize+SetHeaderSize+8, 0)
	require.True(t, b.AddSet(258, make([]byte, 8)))
	require.False(t, b.AddSet(258, make([]byte, 8)))
	msg := b.Finish(time.Unix(0, 0), 1)
	require.Equal(t, HeaderSize+SetHeaderSize+8, len(msg))
}
