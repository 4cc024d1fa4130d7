// Package cache implements the line-associative flow hash table: the core
// of the exporter. Grounded primarily on
// original_source/storage/basic/flowcache.hpp (put_pkt / process_flow /
// export_expired / flush / finish) and
// original_source/storage/basic/hashtablestore.cpp (key canonicalisation,
// line/insertion-index arithmetic).
//
// The cache counts every packet it is given: retransmitted TCP segments
// are not detected or deduplicated.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
	"github.com/ipfixprobe-go/ipfixprobe/internal/logger"
	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
	"github.com/ipfixprobe-go/ipfixprobe/internal/plugin"
	"github.com/ipfixprobe-go/ipfixprobe/internal/ring"
)

// maxReinsertDepth bounds the EOF-shortcut / timeout-export / flush loop
// that the original expresses as recursive re-ingestion of the same
// packet. A handful of iterations is always enough in
// practice; the bound exists so a pathological plugin can't hang a
// goroutine instead of silently looping forever.
const maxReinsertDepth = 8

// Options configures a Cache instance, mirroring the `s=`/`l=`/`a=`/`i=`/`S`
// cache plugin flags.
type Options struct {
	CacheSizeExp uint // cache holds 2^CacheSizeExp slots
	LineSizeExp  uint // each line holds 2^LineSizeExp slots

	ActiveTimeout   time.Duration
	InactiveTimeout time.Duration
	SplitBiflow     bool
}

// Cache is one line-associative flow hash table. Not safe for concurrent
// use: exactly one goroutine owns each cache instance.
type Cache struct {
	opts Options

	table  []*flow.Record
	hashes []uint64

	cacheSize  int
	lineSize   int
	lineMask   uint64
	lineNewIdx int

	freePool chan *flow.Record

	sweepCursor int

	chain      *plugin.Chain
	exportRing *ring.Ring
	log        *logger.Logger
}

// New builds a Cache. The free-record pool is filled up front with
// cache_size + export_ring_capacity records: enough for a full table plus
// a full export ring.
func New(opts Options, chain *plugin.Chain, exportRing *ring.Ring, log *logger.Logger) (*Cache, error) {
	cacheSize := 1 << opts.CacheSizeExp
	lineSize := 1 << opts.LineSizeExp
	if lineSize > cacheSize {
		return nil, fmt.Errorf("cache: line size (%d) exceeds cache size (%d)", lineSize, cacheSize)
	}

	poolSize := cacheSize + exportRing.Cap()
	freePool := make(chan *flow.Record, poolSize)
	for i := 0; i < poolSize; i++ {
		freePool <- &flow.Record{}
	}

	return &Cache{
		opts:       opts,
		table:      make([]*flow.Record, cacheSize),
		hashes:     make([]uint64, cacheSize),
		cacheSize:  cacheSize,
		lineSize:   lineSize,
		lineMask:   uint64((cacheSize - 1) &^ (lineSize - 1)),
		lineNewIdx: lineSize / 2,
		freePool:   freePool,
		chain:      chain,
		exportRing: exportRing,
		log:        log,
	}, nil
}

// Return gives a consumed record back to the free pool, making its
// backing memory available for the next eviction. The exporter worker
// calls this once it has finished serialising a record popped from the
// export ring; the extra slots back the ring without extra allocation.
func (c *Cache) Return(rec *flow.Record) {
	select {
	case c.freePool <- rec:
	default:
		if c.log != nil {
			c.log.Warn("cache: free pool full, dropping returned record")
		}
	}
}

// PutPacket ingests one packet: looks up its flow, creating or updating
// the matching record, handling the EOF shortcut and both timeouts, and
// running the plugin dispatch chain at each step. It always performs the
// per-packet timeout sweep before returning.
func (c *Cache) PutPacket(ctx context.Context, pkt *packet.Packet) error {
	if err := c.putPacket(ctx, pkt); err != nil {
		return err
	}
	return c.sweep(ctx, pkt.Timestamp)
}

func (c *Cache) putPacket(ctx context.Context, pkt *packet.Packet) error {
	for attempt := 0; attempt < maxReinsertDepth; attempt++ {
		preFlags := c.chain.PreCreate(pkt)

		idx, created, err := c.lookupOrCreate(ctx, pkt)
		if err != nil {
			return err
		}

		if created {
			rec := c.table[idx]
			c.mergeCounters(rec, pkt, true)
			flags := preFlags | c.chain.PostCreate(rec, pkt)

			if flags&plugin.FlowFlushWithReinsert != 0 {
				if err := c.exportSlot(ctx, idx, flow.EndReasonForced); err != nil {
					return err
				}
				continue
			}
			if flags&plugin.FlowFlush != 0 {
				if err := c.exportSlot(ctx, idx, flow.EndReasonForced); err != nil {
					return err
				}
				return nil
			}
			return nil
		}

		rec := c.table[idx]

		if pkt.Protocol == packet.ProtoTCP && c.eofShortcut(rec, pkt) {
			if err := c.exportSlot(ctx, idx, flow.EndReasonEOF); err != nil {
				return err
			}
			continue
		}

		if c.opts.InactiveTimeout > 0 && pkt.Timestamp.Sub(rec.TimeLast) > c.opts.InactiveTimeout {
			if err := c.exportSlot(ctx, idx, flow.EndReasonInactive); err != nil {
				return err
			}
			continue
		}

		if c.opts.ActiveTimeout > 0 && pkt.Timestamp.Sub(rec.TimeFirst) > c.opts.ActiveTimeout {
			if err := c.exportSlot(ctx, idx, flow.EndReasonActive); err != nil {
				return err
			}
			continue
		}

		flags := c.chain.PreUpdate(rec, pkt)
		c.mergeCounters(rec, pkt, false)
		flags |= c.chain.PostUpdate(rec, pkt)

		if flags&plugin.FlowFlushWithReinsert != 0 {
			if err := c.exportSlot(ctx, idx, flow.EndReasonForced); err != nil {
				return err
			}
			continue
		}
		if flags&plugin.FlowFlush != 0 {
			if err := c.exportSlot(ctx, idx, flow.EndReasonForced); err != nil {
				return err
			}
			return nil
		}

		c.promote(idx)
		return nil
	}

	return fmt.Errorf("cache: exceeded reinsert depth (%d) for one packet", maxReinsertDepth)
}

// eofShortcut reports whether rec has already seen FIN or RST in either
// direction and pkt itself is a SYN, the condition that closes the old
// flow with reason eof and lets a new one be created in its place.
func (c *Cache) eofShortcut(rec *flow.Record, pkt *packet.Packet) bool {
	if !pkt.HasTCPFlag(packet.TCPSyn) {
		return false
	}
	priorFlags := rec.SrcTCPFlags | rec.DstTCPFlags
	return priorFlags&(packet.TCPFin|packet.TCPRst) != 0
}

func (c *Cache) mergeCounters(rec *flow.Record, pkt *packet.Packet, isCreate bool) {
	if isCreate {
		rec.IPVersion = pkt.IPVersion
		rec.Protocol = pkt.Protocol
		if pkt.Direction == packet.DirectionForward {
			rec.SrcIP, rec.DstIP = pkt.SrcIP, pkt.DstIP
			rec.SrcPort, rec.DstPort = pkt.SrcPort, pkt.DstPort
			rec.SrcMAC, rec.DstMAC = pkt.SrcMAC, pkt.DstMAC
		} else {
			rec.SrcIP, rec.DstIP = pkt.DstIP, pkt.SrcIP
			rec.SrcPort, rec.DstPort = pkt.DstPort, pkt.SrcPort
			rec.SrcMAC, rec.DstMAC = pkt.DstMAC, pkt.SrcMAC
		}
		rec.TimeFirst = pkt.Timestamp
	}

	rec.TimeLast = pkt.Timestamp

	length := uint64(pkt.TotalLength)
	if length == 0 {
		length = uint64(pkt.WireLen)
	}

	if pkt.Direction == packet.DirectionForward {
		rec.SrcPackets++
		rec.SrcBytes += length
		rec.SrcTCPFlags |= pkt.TCPFlags
	} else {
		rec.DstPackets++
		rec.DstBytes += length
		rec.DstTCPFlags |= pkt.TCPFlags
	}
}

// lookupOrCreate resolves pkt to a table index, creating a fresh record if
// no existing flow matches. It also sets pkt.Direction. With SplitBiflow
// only the forward key is probed, so each direction gets its own flow.
func (c *Cache) lookupOrCreate(ctx context.Context, pkt *packet.Packet) (idx int, created bool, err error) {
	if c.opts.SplitBiflow {
		key := flow.ForwardKey(pkt)
		pkt.Direction = packet.DirectionForward
		h := key.Hash()
		if i, ok := c.search(h); ok {
			return i, false, nil
		}
		i, err := c.insert(ctx, h, key, pkt.Timestamp)
		return i, true, err
	}

	fwdKey := flow.ForwardKey(pkt)
	fh := fwdKey.Hash()
	if i, ok := c.search(fh); ok {
		pkt.Direction = packet.DirectionForward
		return i, false, nil
	}

	revKey := flow.ReverseKey(pkt)
	rh := revKey.Hash()
	if i, ok := c.search(rh); ok {
		pkt.Direction = packet.DirectionReverse
		return i, false, nil
	}

	pkt.Direction = packet.DirectionForward
	i, err := c.insert(ctx, fh, fwdKey, pkt.Timestamp)
	return i, true, err
}

func (c *Cache) search(h uint64) (int, bool) {
	lineStart := int(h & c.lineMask)
	for i := lineStart; i < lineStart+c.lineSize; i++ {
		if c.hashes[i] == h {
			return i, true
		}
	}
	return 0, false
}

// insert places a fresh record for (h, key) into its line, either in the
// first empty slot (promoted to MRU like any other hit) or, if the line is
// full, by evicting the LRU tail with reason no_resources and re-inserting
// at the configured insertion index.
func (c *Cache) insert(ctx context.Context, h uint64, key flow.Key, ts time.Time) (int, error) {
	lineStart := int(h & c.lineMask)

	for i := lineStart; i < lineStart+c.lineSize; i++ {
		if c.hashes[i] == 0 {
			rec, err := c.takeFree(ctx)
			if err != nil {
				return 0, err
			}
			rec.Reset(key, h, ts)
			c.table[i] = rec
			c.hashes[i] = h
			c.promote(i)
			return lineStart, nil
		}
	}

	tail := lineStart + c.lineSize - 1
	if err := c.exportSlot(ctx, tail, flow.EndReasonNoResources); err != nil {
		return 0, err
	}

	rec, err := c.takeFree(ctx)
	if err != nil {
		return 0, err
	}
	rec.Reset(key, h, ts)

	// The freed slot is shifted from the tail to the configured
	// insertion index before the new record lands there. Like any other
	// creation, the record is then promoted to MRU: after evicting k1, a
	// freshly-created k3 ends up at the line's head, not sitting at the
	// insertion index.
	newIdx := lineStart + c.lineNewIdx
	copy(c.table[newIdx+1:tail+1], c.table[newIdx:tail])
	copy(c.hashes[newIdx+1:tail+1], c.hashes[newIdx:tail])
	c.table[newIdx] = rec
	c.hashes[newIdx] = h
	c.promote(newIdx)

	return lineStart, nil
}

// promote moves the slot at idx to the front (index 0) of its line,
// shifting the intervening slots back by one. Index 0 is most recently
// used.
func (c *Cache) promote(idx int) {
	lineStart := idx - idx%c.lineSize
	if idx == lineStart {
		return
	}
	rec, h := c.table[idx], c.hashes[idx]
	copy(c.table[lineStart+1:idx+1], c.table[lineStart:idx])
	copy(c.hashes[lineStart+1:idx+1], c.hashes[lineStart:idx])
	c.table[lineStart] = rec
	c.hashes[lineStart] = h
}

// takeFree blocks until a record is available from the free pool or ctx is
// cancelled.
func (c *Cache) takeFree(ctx context.Context) (*flow.Record, error) {
	select {
	case rec := <-c.freePool:
		return rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// exportSlot runs PreExport, enqueues the record onto the export ring, and
// clears the table slot. A no-op if the slot is already empty (used
// defensively by Finish/sweep against already-cleared slots).
func (c *Cache) exportSlot(ctx context.Context, idx int, reason flow.EndReason) error {
	rec := c.table[idx]
	if rec == nil {
		return nil
	}
	rec.EndReason = reason
	c.chain.PreExport(rec)

	if err := c.exportRing.Push(ctx, rec); err != nil {
		return err
	}

	c.table[idx] = nil
	c.hashes[idx] = 0
	return nil
}

// sweep advances the rolling timeout cursor by line_size/2 slots,
// exporting any non-empty slot whose age exceeds the inactive timeout.
func (c *Cache) sweep(ctx context.Context, now time.Time) error {
	if c.opts.InactiveTimeout <= 0 {
		return nil
	}
	step := c.lineSize / 2
	if step == 0 {
		step = 1
	}
	for i := 0; i < step; i++ {
		idx := c.sweepCursor
		if rec := c.table[idx]; rec != nil && now.Sub(rec.TimeLast) > c.opts.InactiveTimeout {
			if err := c.exportSlot(ctx, idx, flow.EndReasonInactive); err != nil {
				return err
			}
		}
		c.sweepCursor++
		if c.sweepCursor >= c.cacheSize {
			c.sweepCursor = 0
		}
	}
	return nil
}

// ExportExpired drives the timeout sweep independently of packet arrival,
// for the input worker to call during idle periods.
func (c *Cache) ExportExpired(ctx context.Context, now time.Time) error {
	return c.sweep(ctx, now)
}

// Finish force-exports every non-empty slot with reason forced, then
// leaves the cache empty. Safe to call on an already-empty cache.
func (c *Cache) Finish(ctx context.Context) error {
	for i := 0; i < c.cacheSize; i++ {
		if c.table[i] != nil {
			if err := c.exportSlot(ctx, i, flow.EndReasonForced); err != nil {
				return err
			}
		}
	}
	return nil
}

// Size returns the configured cache capacity (2^CacheSizeExp).
func (c *Cache) Size() int { return c.cacheSize }

// LineSize returns the configured line size (2^LineSizeExp).
func (c *Cache) LineSize() int { return c.lineSize }
