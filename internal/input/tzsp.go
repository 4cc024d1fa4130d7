// Package input adapts concrete capture sources (TZSP-encapsulated UDP,
// pcap files) into packet.Source, the interface the input worker pulls
// batches from. Grounded on internal/server/server.go's receive loop and
// internal/tzsp/decoder.go, generalised from a monolithic server into a
// reusable Source.
package input

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/logger"
	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
	"github.com/ipfixprobe-go/ipfixprobe/internal/tzsp"
)

// readDeadline bounds each ReadFromUDP call so Get can observe context
// cancellation between reads.
const readDeadline = time.Second

// TZSPSource receives TZSP-encapsulated packets over UDP and decodes the
// inner packet with a reusable packet.Decoder.
type TZSPSource struct {
	conn       *net.UDPConn
	tzspDec    *tzsp.Decoder
	pktDec     *packet.Decoder
	bufferSize int
	buf        []byte
	log        *logger.Logger
}

// NewTZSPSource binds listenAddr ("host:port" UDP) and returns a Source
// reading from it.
func NewTZSPSource(listenAddr string, bufferSize int, log *logger.Logger) (*TZSPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("input: resolve %q: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("input: listen %q: %w", listenAddr, err)
	}
	if bufferSize <= 0 {
		bufferSize = 65536
	}
	return &TZSPSource{
		conn:       conn,
		tzspDec:    tzsp.NewDecoder(),
		pktDec:     packet.NewDecoder(),
		bufferSize: bufferSize,
		buf:        make([]byte, bufferSize),
		log:        log,
	}, nil
}

// Get implements packet.Source: it fills batch with as many decoded
// packets as arrive before the read deadline or ctx is cancelled.
func (s *TZSPSource) Get(ctx context.Context, batch []packet.Packet) (int, packet.Status, error) {
	n := 0
	for n < len(batch) {
		select {
		case <-ctx.Done():
			return n, packet.StatusParsed, nil
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		read, _, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if n > 0 {
					return n, packet.StatusParsed, nil
				}
				return 0, packet.StatusTimeout, nil
			}
			return n, packet.StatusError, fmt.Errorf("input: tzsp read: %w", err)
		}

		tzspPkt, err := s.tzspDec.Decode(s.buf[:read], "")
		if err != nil || len(tzspPkt.EncapPacket) == 0 {
			continue
		}

		ts := tzspPkt.ReceivedTime
		if pts := tzspPkt.GetTimestamp(); pts != nil {
			ts = *pts
		}

		pkt, err := s.pktDec.Decode(tzspPkt.EncapPacket, ts, len(tzspPkt.EncapPacket))
		if err != nil {
			if s.log != nil {
				s.log.Debug("input: decode error", "error", err)
			}
			continue
		}
		pkt.Raw = append([]byte(nil), tzspPkt.EncapPacket...)
		batch[n] = pkt
		n++
	}
	return n, packet.StatusParsed, nil
}

// Close implements packet.Source.
func (s *TZSPSource) Close() error {
	return s.conn.Close()
}
