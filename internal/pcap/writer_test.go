package pcap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

func TestWriterWritePacketThenReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.pcap")

	w, err := NewWriter(path, 0, 0)
	require.NoError(t, err)

	frame := []byte{0x01, 0x02, 0x03, 0x04}
	require.NoError(t, w.WritePacket(frame, time.Unix(1700000000, 0)))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)

	data, _, err := r.ReadPacketData()
	require.NoError(t, err)
	require.Equal(t, frame, data)
}

func TestWriterRotatesOnSizeLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.pcap")

	w, err := NewWriter(path, 0, 1)
	require.NoError(t, err)
	w.maxSizeMB = 1

	frame := make([]byte, 64)
	require.NoError(t, w.WritePacket(frame, time.Now()))
	w.bytesWritten = int64(2) * 1024 * 1024
	require.NoError(t, w.WritePacket(frame, time.Now()))
	require.NoError(t, w.Close())

	_, err = os.Stat(path + ".1")
	require.NoError(t, err)
}
