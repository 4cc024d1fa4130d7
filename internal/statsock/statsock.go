// Package statsock serves runtime counters over a Unix domain socket: one
// binary snapshot per connection. Grounded on original_source/stats.cpp's
// createStatsSock/connectToExporter pairing (a bound, listening UNIX
// stream socket per process, `MSG_DONTWAIT` retry loop) — replaced here
// by net.Listen("unix", ...) plus a per-connection deadline, the same
// SetReadDeadline idiom used elsewhere in this repo's receive loops.
package statsock

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/logger"
)

// Magic identifies a valid stats snapshot header.
const Magic uint32 = 0x49465058 // "IFPX"

// Header is the fixed-size preamble of a stats snapshot.
type Header struct {
	Magic    uint32
	Size     uint32
	NInputs  uint32
	NOutputs uint32
}

// InputStats is one input worker's counters.
type InputStats struct {
	PacketsRead    uint64
	PacketsDropped uint64
}

// OutputStats is one output worker's counters.
type OutputStats struct {
	FlowsExported uint64
	Dropped       uint64
}

// Snapshot is the full set of counters served by one query.
type Snapshot struct {
	Inputs  []InputStats
	Outputs []OutputStats
}

func (s Snapshot) encode() []byte {
	hdr := Header{
		Magic:    Magic,
		Size:     uint32(binary.Size(InputStats{})*len(s.Inputs) + binary.Size(OutputStats{})*len(s.Outputs)),
		NInputs:  uint32(len(s.Inputs)),
		NOutputs: uint32(len(s.Outputs)),
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, hdr)
	for _, in := range s.Inputs {
		binary.Write(&buf, binary.BigEndian, in)
	}
	for _, out := range s.Outputs {
		binary.Write(&buf, binary.BigEndian, out)
	}
	return buf.Bytes()
}

func decodeSnapshot(r io.Reader) (Snapshot, error) {
	var hdr Header
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return Snapshot{}, fmt.Errorf("statsock: reading header: %w", err)
	}
	if hdr.Magic != Magic {
		return Snapshot{}, fmt.Errorf("statsock: bad magic %#x", hdr.Magic)
	}

	snap := Snapshot{
		Inputs:  make([]InputStats, hdr.NInputs),
		Outputs: make([]OutputStats, hdr.NOutputs),
	}
	for i := range snap.Inputs {
		if err := binary.Read(r, binary.BigEndian, &snap.Inputs[i]); err != nil {
			return Snapshot{}, fmt.Errorf("statsock: reading input %d: %w", i, err)
		}
	}
	for i := range snap.Outputs {
		if err := binary.Read(r, binary.BigEndian, &snap.Outputs[i]); err != nil {
			return Snapshot{}, fmt.Errorf("statsock: reading output %d: %w", i, err)
		}
	}
	return snap, nil
}

// SocketPath returns the default stats socket path for pid, falling back
// to $TMPDIR (and then os.TempDir) when /var/run/ipfixprobe isn't usable,
// directly grounded on the original's createSockpath.
func SocketPath(pid int) string {
	dir := "/var/run/ipfixprobe"
	if _, err := os.Stat(dir); err != nil {
		if tmp := os.Getenv("TMPDIR"); tmp != "" {
			dir = tmp
		} else {
			dir = os.TempDir()
		}
	}
	return filepath.Join(dir, fmt.Sprintf("ipfixprobe_%d.sock", pid))
}

// SnapshotFunc produces the current counters to serve to a connecting
// client.
type SnapshotFunc func() Snapshot

// Server listens on a UNIX stream socket and writes one binary Snapshot,
// obtained from a SnapshotFunc, per incoming connection.
type Server struct {
	path string
	ln   net.Listener
	fn   SnapshotFunc
	log  *logger.Logger
}

// Listen creates (replacing any stale socket file at path) and returns a
// Server ready to Serve.
func Listen(path string, fn SnapshotFunc, log *logger.Logger) (*Server, error) {
	_ = os.Remove(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("statsock: creating socket directory: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("statsock: listen: %w", err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("statsock: chmod: %w", err)
	}
	return &Server{path: path, ln: ln, fn: fn, log: log}, nil
}

// Serve accepts connections until the listener is closed, writing one
// snapshot to each before closing it.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errClosed(err) {
				return nil
			}
			return err
		}
		s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(s.fn().encode()); err != nil {
		if s.log != nil {
			s.log.Warn("statsock: writing snapshot failed", "error", err)
		}
	}
}

// Close stops accepting connections and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

func errClosed(err error) bool {
	ne, ok := err.(*net.OpError)
	return ok && ne.Err.Error() == "use of closed network connection"
}

// Query connects to the stats socket at path and returns the decoded
// snapshot.
func Query(path string) (Snapshot, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("statsock: dial: %w", err)
	}
	defer conn.Close()
	return decodeSnapshot(conn)
}
