package ipfix

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// dialingExporter spins up a TCP listener and an Exporter connected to
// it, returning a channel fed with each raw message the listener reads.
func dialingExporter(t *testing.T, mtu int) (*Exporter, chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	msgs := make(chan []byte, 16)
	go func() {
		conn, aerr := ln.Accept()
		if aerr != nil {
			return
		}
		defer conn.Close()
		for {
			buf := make([]byte, 4096)
			n, rerr := conn.Read(buf)
			if rerr != nil {
				return
			}
			msgs <- buf[:n]
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	e, err := NewExporter(TransportConfig{Host: host, Port: uint16(port), MTU: mtu}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.conn.Close() })
	return e, msgs
}

func recvMsg(t *testing.T, msgs chan []byte) []byte {
	t.Helper()
	select {
	case m := <-msgs:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func setID(msg []byte) uint16 { return binary.BigEndian.Uint16(msg[HeaderSize : HeaderSize+2]) }
func seqNum(msg []byte) uint32 { return binary.BigEndian.Uint32(msg[4:8]) }

// A second, later-created template shape must get its own template
// record sent before its data, even though a first template was already
// sent on this connection: template transmission is gated per-Template,
// not by one global "have we sent anything yet" flag.
func TestEnsureTemplateSendsEachNewShapeOnTCP(t *testing.T) {
	e, msgs := dialingExporter(t, 1458)
	ctx := context.Background()

	v4 := testRecord()
	tmpl1 := e.Manager().TemplateFor(v4)
	require.NoError(t, e.EnsureTemplate(ctx, tmpl1))
	require.Equal(t, TemplateSetID, setID(recvMsg(t, msgs)))

	v6 := testRecord()
	v6.IPVersion = 6
	v6.SrcIP = net.ParseIP("::1")
	v6.DstIP = net.ParseIP("::2")
	tmpl2 := e.Manager().TemplateFor(v6)
	require.NotEqual(t, tmpl1.ID, tmpl2.ID)

	require.NoError(t, e.EnsureTemplate(ctx, tmpl2))
	require.Equal(t, TemplateSetID, setID(recvMsg(t, msgs)))

	// Re-requesting the first template on the same connection must not
	// trigger a resend.
	require.NoError(t, e.EnsureTemplate(ctx, tmpl1))
	select {
	case m := <-msgs:
		t.Fatalf("unexpected resend of an already-exported template: %v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

// The header sequence number counts Data Records, not messages or sets:
// a message carrying N records advances it by N, and template-only
// messages don't advance it at all.
func TestSequenceNumberCountsDataRecordsNotMessages(t *testing.T) {
	e, msgs := dialingExporter(t, 1458)
	ctx := context.Background()

	rec := testRecord()
	tmpl := e.Manager().TemplateFor(rec)
	require.NoError(t, e.EnsureTemplate(ctx, tmpl))
	tplMsg := recvMsg(t, msgs)
	require.Equal(t, TemplateSetID, setID(tplMsg))
	require.Equal(t, uint32(0), seqNum(tplMsg))

	buf := make([]byte, 256)
	for i := 0; i < 3; i++ {
		n, err := EncodeRecord(rec, buf)
		require.NoError(t, err)
		require.NoError(t, e.AddRecord(ctx, tmpl, buf[:n]))
	}
	require.NoError(t, e.Flush(ctx))
	dataMsg := recvMsg(t, msgs)
	require.Equal(t, tmpl.ID, setID(dataMsg))
	require.Equal(t, uint32(0), seqNum(dataMsg))

	for i := 0; i < 2; i++ {
		n, err := EncodeRecord(rec, buf)
		require.NoError(t, err)
		require.NoError(t, e.AddRecord(ctx, tmpl, buf[:n]))
	}
	require.NoError(t, e.Flush(ctx))
	dataMsg2 := recvMsg(t, msgs)
	// 3 records already counted, so this message must start at 3, not 1.
	require.Equal(t, uint32(3), seqNum(dataMsg2))
}

func TestDialResetsSequenceNumberAndPendingRecords(t *testing.T) {
	e, _ := dialingExporter(t, 1458)
	e.seq = 42
	e.pendingRecords = 7
	require.NoError(t, e.dial())
	require.Equal(t, uint32(0), e.seq)
	require.Equal(t, uint32(0), e.pendingRecords)
}

func TestDialResetsTemplateExportedFlags(t *testing.T) {
	e, _ := dialingExporter(t, 1458)
	tmpl := e.Manager().TemplateFor(testRecord())
	require.NoError(t, e.EnsureTemplate(context.Background(), tmpl))
	require.True(t, tmpl.exported)

	require.NoError(t, e.dial())
	require.False(t, tmpl.exported)
}
