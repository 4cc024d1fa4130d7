// Package worker runs the input and output pumps that connect a packet
// source to the flow cache, and the flow cache's export ring to an IPFIX
// exporter. Grounded on internal/server/server.go's receive-loop/
// stats-ticker structure, generalised from one UDP listener to an
// arbitrary packet.Source and flow pipeline.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ipfixprobe-go/ipfixprobe/internal/cache"
	"github.com/ipfixprobe-go/ipfixprobe/internal/logger"
	"github.com/ipfixprobe-go/ipfixprobe/internal/packet"
	"github.com/ipfixprobe-go/ipfixprobe/internal/pcap"
)

// InputConfig configures one Input pump.
type InputConfig struct {
	Source        packet.Source
	Cache         *cache.Cache
	BatchSize     int
	SweepInterval time.Duration
	Logger        *logger.Logger

	// Trace, if set, receives a copy of every packet that carries raw
	// bytes (see packet.Packet.Raw), for offline inspection of what
	// reached the cache.
	Trace *pcap.Writer
}

// Input pulls packet batches from a Source and feeds them to a Cache,
// periodically sweeping for timed-out flows between batches: the input
// worker drives both packet ingestion and the cache's rolling timeout
// sweep.
type Input struct {
	cfg InputConfig

	packetsRead    uint64
	packetsDropped uint64
}

// NewInput returns an Input pump ready to Run.
func NewInput(cfg InputConfig) *Input {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	return &Input{cfg: cfg}
}

// Run reads from the source until ctx is cancelled or the source signals
// EOF, handing every parsed packet to the cache and sweeping for expired
// flows on a fixed interval. It always flushes remaining flows via
// Cache.Finish before returning, even on error.
func (in *Input) Run(ctx context.Context) error {
	batch := make([]packet.Packet, in.cfg.BatchSize)
	sweepTicker := time.NewTicker(in.cfg.SweepInterval)
	defer sweepTicker.Stop()

	runErr := in.loop(ctx, batch, sweepTicker)

	finishErr := in.cfg.Cache.Finish(context.Background())
	if runErr != nil {
		return runErr
	}
	return finishErr
}

func (in *Input) loop(ctx context.Context, batch []packet.Packet, sweepTicker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweepTicker.C:
			if err := in.cfg.Cache.ExportExpired(ctx, time.Now()); err != nil {
				return err
			}
			continue
		default:
		}

		n, status, err := in.cfg.Source.Get(ctx, batch)
		for i := 0; i < n; i++ {
			in.packetsRead++
			if in.cfg.Trace != nil && batch[i].Raw != nil {
				if terr := in.cfg.Trace.WritePacket(batch[i].Raw, batch[i].Timestamp); terr != nil && in.cfg.Logger != nil {
					in.cfg.Logger.Warn("input: trace write failed", "error", terr)
				}
			}
			if perr := in.cfg.Cache.PutPacket(ctx, &batch[i]); perr != nil {
				in.packetsDropped++
				if in.cfg.Logger != nil {
					in.cfg.Logger.Debug("input: dropped packet", "error", perr)
				}
			}
		}

		switch status {
		case packet.StatusEOF:
			return nil
		case packet.StatusError:
			if in.cfg.Logger != nil {
				in.cfg.Logger.Error("input: source error", "error", err)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case packet.StatusTimeout, packet.StatusParsed:
		}
	}
}

// Stats returns the packets read and dropped so far.
func (in *Input) Stats() (read, dropped uint64) {
	return in.packetsRead, in.packetsDropped
}
