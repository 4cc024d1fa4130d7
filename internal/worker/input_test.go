package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/cache"
	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
	"github.com/ipfixprobe-go/ipfixprobe/internal/plugin"
	"github.com/ipfixprobe-go/ipfixprobe/internal/ring"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	batches [][]packet.Packet
	idx     int
}

func (f *fakeSource) Get(ctx context.Context, batch []packet.Packet) (int, packet.Status, error) {
	if f.idx >= len(f.batches) {
		return 0, packet.StatusEOF, nil
	}
	n := copy(batch, f.batches[f.idx])
	f.idx++
	return n, packet.StatusParsed, nil
}

func (f *fakeSource) Close() error { return nil }

func onePacket() packet.Packet {
	return packet.Packet{
		Timestamp: time.Unix(0, 0),
		IPVersion: 4,
		Protocol:  packet.ProtoUDP,
		SrcIP:     net.ParseIP("10.0.0.1"),
		DstIP:     net.ParseIP("10.0.0.2"),
		SrcPort:   1000,
		DstPort:   53,
	}
}

func TestInputRunDrainsSourceAndFinishesCache(t *testing.T) {
	r := ring.New(4, false)
	c, err := cache.New(cache.Options{CacheSizeExp: 4, LineSizeExp: 2}, plugin.NewChain(nil), r, nil)
	require.NoError(t, err)

	src := &fakeSource{batches: [][]packet.Packet{{onePacket()}, {onePacket()}}}
	in := NewInput(InputConfig{Source: src, Cache: c, SweepInterval: time.Hour})

	require.NoError(t, in.Run(context.Background()))
	read, dropped := in.Stats()
	require.Equal(t, uint64(2), read)
	require.Equal(t, uint64(0), dropped)
	require.Equal(t, 1, r.Count())
}
