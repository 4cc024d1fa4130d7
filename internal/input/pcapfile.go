package input

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/pcapgo"

	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
)

// PcapFileSource replays a pcap file as a packet.Source, used for offline
// processing and benchmarking. One batch call decodes up to len(batch)
// records; the final batch before EOF may be short.
type PcapFileSource struct {
	file   *os.File
	reader *pcapgo.Reader
	dec    *packet.Decoder
}

// NewPcapFileSource opens path for reading.
func NewPcapFileSource(path string) (*PcapFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("input: open %q: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("input: pcap header %q: %w", path, err)
	}
	return &PcapFileSource{file: f, reader: r, dec: packet.NewDecoder()}, nil
}

// Get implements packet.Source.
func (s *PcapFileSource) Get(ctx context.Context, batch []packet.Packet) (int, packet.Status, error) {
	n := 0
	for n < len(batch) {
		if err := ctx.Err(); err != nil {
			return n, packet.StatusParsed, nil
		}

		data, ci, err := s.reader.ReadPacketData()
		if err == io.EOF {
			return n, packet.StatusEOF, nil
		}
		if err != nil {
			return n, packet.StatusError, fmt.Errorf("input: pcap read: %w", err)
		}

		pkt, err := s.dec.Decode(data, ci.Timestamp, ci.Length)
		if err != nil {
			continue
		}
		pkt.Raw = append([]byte(nil), data...)
		batch[n] = pkt
		n++
	}
	return n, packet.StatusParsed, nil
}

// Close implements packet.Source.
func (s *PcapFileSource) Close() error {
	return s.file.Close()
}
