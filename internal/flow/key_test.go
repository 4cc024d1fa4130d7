package flow

import (
	"net"
	"testing"

	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
	"github.com/stretchr/testify/require"
)

func testPacket(srcIP, dstIP string, srcPort, dstPort uint16) *packet.Packet {
	return &packet.Packet{
		IPVersion: 4,
		Protocol:  packet.ProtoTCP,
		SrcIP:     net.ParseIP(srcIP),
		DstIP:     net.ParseIP(dstIP),
		SrcPort:   srcPort,
		DstPort:   dstPort,
	}
}

func TestForwardReverseKeysAreSymmetric(t *testing.T) {
	fwd := testPacket("10.0.0.1", "10.0.0.2", 1000, 53)
	rev := testPacket("10.0.0.2", "10.0.0.1", 53, 1000)

	require.Equal(t, ForwardKey(fwd), ReverseKey(rev))
	require.Equal(t, ForwardKey(fwd).Hash(), ReverseKey(rev).Hash())
}

func TestCanonicalBiflowKeyOrdersByPortThenIP(t *testing.T) {
	fwd := testPacket("10.0.0.1", "10.0.0.2", 1000, 80)
	rev := testPacket("10.0.0.2", "10.0.0.1", 80, 1000)

	kFwd, reversedFwd := CanonicalBiflowKey(fwd)
	kRev, reversedRev := CanonicalBiflowKey(rev)

	require.Equal(t, kFwd, kRev)
	require.True(t, reversedFwd)
	require.False(t, reversedRev)
}

func TestCanonicalBiflowKeyTieBreaksOnIPWhenPortsEqual(t *testing.T) {
	a := testPacket("10.0.0.5", "10.0.0.9", 443, 443)
	b := testPacket("10.0.0.9", "10.0.0.5", 443, 443)

	kA, _ := CanonicalBiflowKey(a)
	kB, _ := CanonicalBiflowKey(b)
	require.Equal(t, kA, kB)
}
