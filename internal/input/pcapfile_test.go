package input

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"

	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
)

func writeTestPcap(t *testing.T, frames [][]byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "input-*.pcap")
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, 0),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return f.Name()
}

func TestPcapFileSourceDecodesFramesThenEOF(t *testing.T) {
	path := writeTestPcap(t, [][]byte{buildUDPFrame(), buildUDPFrame()})

	src, err := NewPcapFileSource(path)
	require.NoError(t, err)
	defer src.Close()

	batch := make([]packet.Packet, 4)
	n, status, err := src.Get(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, packet.StatusEOF, status)
	require.Equal(t, 2, n)
	require.Equal(t, packet.ProtoUDP, batch[0].Protocol)
	require.NotNil(t, batch[0].Raw)
}

func TestPcapFileSourceMissingFileErrors(t *testing.T) {
	_, err := NewPcapFileSource("/nonexistent/path.pcap")
	require.Error(t, err)
}
