package packet

import "context"

// Status reports the outcome of a Source.Get call.
type Status int

const (
	// StatusParsed means batch[:n] was filled with freshly parsed packets.
	StatusParsed Status = iota
	// StatusTimeout means no packets were available before the source's
	// internal poll interval elapsed; n may be > 0 for a partial batch.
	StatusTimeout
	// StatusEOF means the source is exhausted (pcap file consumed,
	// benchmark packet count reached) and will never return more packets.
	StatusEOF
	// StatusError means the source failed in a way the input worker
	// should surface and stop on.
	StatusError
)

// Source is the packet input contract. Implementations pull
// frames from a capture backend, decode them into Packet values, and fill
// the caller-provided batch slice. A batch may be partially filled; n
// reports how many entries of batch are valid.
type Source interface {
	// Get fills batch[:n] with parsed packets and returns how many were
	// written plus the resulting status. Get must respect ctx
	// cancellation and return promptly once ctx.Done() is closed.
	Get(ctx context.Context, batch []Packet) (n int, status Status, err error)

	// Close releases any resources held by the source (file handles,
	// sockets, pcap handles).
	Close() error
}
