package input

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
)

// buildTZSPFrame wraps an encapsulated frame in a minimal TZSP v1
// "received tagged packet" header: version, type, protocol, then an
// immediate end-of-tags marker before the payload.
func buildTZSPFrame(encap []byte) []byte {
	header := []byte{1, 0, 0, 1, 1 /* TagEnd */}
	return append(header, encap...)
}

func TestTZSPSourceDecodesEncapsulatedFrame(t *testing.T) {
	src, err := NewTZSPSource("127.0.0.1:0", 0, nil)
	require.NoError(t, err)
	defer src.Close()

	sender, err := net.DialUDP("udp", nil, src.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write(buildTZSPFrame(buildUDPFrame()))
	require.NoError(t, err)

	batch := make([]packet.Packet, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, status, err := src.Get(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, packet.StatusParsed, status)
	require.Equal(t, 1, n)
	require.Equal(t, packet.ProtoUDP, batch[0].Protocol)
	require.NotNil(t, batch[0].Raw)
}

func TestTZSPSourceTimesOutWithNoData(t *testing.T) {
	src, err := NewTZSPSource("127.0.0.1:0", 0, nil)
	require.NoError(t, err)
	defer src.Close()

	batch := make([]packet.Packet, 4)
	n, status, err := src.Get(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, packet.StatusTimeout, status)
}
