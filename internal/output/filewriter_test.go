package output

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
)

func testFlowRecord() *flow.Record {
	return &flow.Record{
		IPVersion:  4,
		Protocol:   6,
		SrcIP:      net.IPv4(192, 0, 2, 1),
		DstIP:      net.IPv4(192, 0, 2, 2),
		SrcPort:    1234,
		DstPort:    443,
		SrcPackets: 3,
		SrcBytes:   180,
		DstPackets: 2,
		DstBytes:   120,
		EndReason:  flow.EndReasonActive,
	}
}

func TestNewFlowWriterDisabledIsNoOp(t *testing.T) {
	w, err := NewFlowWriter(false, "", "")
	require.NoError(t, err)
	w.WriteFlow(testFlowRecord())
	require.NoError(t, w.Close())
}

func TestNewFlowWriterWritesLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.log")

	w, err := NewFlowWriter(true, path, "text")
	require.NoError(t, err)
	w.WriteFlow(testFlowRecord())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "192.0.2.1")
	require.Contains(t, string(data), "active")
}

func TestNewFlowWriterMissingDirErrors(t *testing.T) {
	_, err := NewFlowWriter(true, filepath.Join(t.TempDir(), "missing-dir", "flows.log"), "text")
	require.Error(t, err)
}
