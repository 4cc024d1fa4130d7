// Package ring implements the bounded SPSC/MPMC queue that carries flow
// records from cache to exporter (and, in multi-producer mode, from
// several input goroutines into one storage). Grounded on
// original_source/ring.c: batched reader/writer synchronisation with a
// private local view of the other side's index, resynced every
// capacity/8 operations, and 32-bit monotonic counters relying on
// unsigned wraparound for count().
package ring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
)

// ErrNotDrained is returned by Close when the ring still holds records
// that were pushed but never popped, mirroring the original's destructor
// assertion.
var ErrNotDrained = errors.New("ring: closed while not drained")

// pollInterval bounds how long Push/Pop block between checking for
// available space/data and re-checking ctx cancellation, matching the
// original's 10ms pthread_cond_timedwait loop.
const pollInterval = 10 * time.Millisecond

// Ring is a fixed-capacity circular buffer of *flow.Record pointers.
// Records are swapped in and out by pointer, never value-copied.
type Ring struct {
	data     []*flow.Record
	capacity uint32
	syncSize uint32 // batch size for cross-side resync, capacity/8

	multiProducer bool
	writeLock     sync.Mutex

	// writeIdx/readIdx are the shared, authoritative monotonic counters.
	// Each side also keeps a private cached copy of the OTHER side's
	// counter (writerSeenRead / readerSeenWrite), refreshed only once
	// per syncSize operations, to avoid bouncing the shared cache line
	// on every single push/pop.
	writeIdx atomic.Uint32
	readIdx  atomic.Uint32

	writerSeenRead  uint32
	readerSeenWrite uint32

	closed atomic.Bool
}

// New builds a Ring with the given capacity (number of record slots).
// multiProducer enables the writer-lock path for shared-producer rings,
// for when multiple input threads share a storage.
func New(capacity int, multiProducer bool) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	syncSize := uint32(capacity / 8)
	if syncSize == 0 {
		syncSize = 1
	}
	return &Ring{
		data:          make([]*flow.Record, capacity),
		capacity:      uint32(capacity),
		syncSize:      syncSize,
		multiProducer: multiProducer,
	}
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int { return int(r.capacity) }

// Count returns the number of records currently queued: total pushes minus
// total pops, computed with unsigned wraparound so it stays correct across
// a 32-bit counter overflow.
func (r *Ring) Count() int {
	return int(r.writeIdx.Load() - r.readIdx.Load())
}

// Push enqueues rec, blocking until a slot is free or ctx is cancelled.
func (r *Ring) Push(ctx context.Context, rec *flow.Record) error {
	if r.multiProducer {
		r.writeLock.Lock()
		defer r.writeLock.Unlock()
	}

	for {
		w := r.writeIdx.Load()
		if w-r.writerSeenRead < r.capacity {
			r.data[w%r.capacity] = rec
			r.writeIdx.Store(w + 1)
			// Resync our cached view of the reader only every syncSize
			// pushes; this batching is the documented behaviour we're
			// preserving from the original ring, not a correctness
			// requirement (the next full-check will resync anyway).
			if (w+1)-r.writerSeenRead >= r.syncSize {
				r.writerSeenRead = r.readIdx.Load()
			}
			return nil
		}

		// Full from our cached view; refresh and retest before sleeping.
		r.writerSeenRead = r.readIdx.Load()
		if w-r.writerSeenRead < r.capacity {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Pop dequeues the oldest record, blocking until one is available or ctx
// is cancelled.
func (r *Ring) Pop(ctx context.Context) (*flow.Record, error) {
	for {
		rd := r.readIdx.Load()
		if r.readerSeenWrite-rd > 0 {
			rec := r.data[rd%r.capacity]
			r.data[rd%r.capacity] = nil
			r.readIdx.Store(rd + 1)
			return rec, nil
		}

		r.readerSeenWrite = r.writeIdx.Load()
		if r.readerSeenWrite-rd > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// TryPop dequeues the oldest record without blocking. ok is false if the
// ring was empty.
func (r *Ring) TryPop() (rec *flow.Record, ok bool) {
	rd := r.readIdx.Load()
	wr := r.writeIdx.Load()
	if wr-rd == 0 {
		return nil, false
	}
	rec = r.data[rd%r.capacity]
	r.data[rd%r.capacity] = nil
	r.readIdx.Store(rd + 1)
	return rec, true
}

// Close marks the ring closed. It returns ErrNotDrained if records remain
// queued, mirroring the original's destructor-time assertion without
// aborting the process.
func (r *Ring) Close() error {
	r.closed.Store(true)
	if r.Count() != 0 {
		return ErrNotDrained
	}
	return nil
}
