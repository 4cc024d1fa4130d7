package worker

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/ipfixprobe-go/ipfixprobe/internal/cache"
	"github.com/ipfixprobe-go/ipfixprobe/internal/flow"
	"github.com/ipfixprobe-go/ipfixprobe/internal/ipfix"
	"github.com/ipfixprobe-go/ipfixprobe/internal/logger"
	"github.com/ipfixprobe-go/ipfixprobe/internal/output"
	"github.com/ipfixprobe-go/ipfixprobe/internal/ring"
)

// FlushInterval is how long the output pump waits for a fresh record
// before flushing a partially filled IPFIX message, matching the
// original exporter's "send what you have" idle behaviour.
const FlushInterval = time.Second

// OutputConfig configures one Output pump.
type OutputConfig struct {
	Ring     *ring.Ring
	Exporter *ipfix.Exporter
	Cache    *cache.Cache
	RateFPS  float64 // 0 disables the limiter
	Logger   *logger.Logger

	// FlowLog, if non-nil, receives a metadata line for every exported
	// flow in addition to the IPFIX wire export.
	FlowLog *output.FlowWriter
}

// Output drains a Ring of finished flows, encodes them against the
// Exporter's template set, and ships IPFIX messages to the collector.
type Output struct {
	cfg     OutputConfig
	limiter *rate.Limiter

	flowsExported  uint64
	recordsDropped uint64
}

// NewOutput returns an Output pump ready to Run.
func NewOutput(cfg OutputConfig) *Output {
	o := &Output{cfg: cfg}
	if cfg.RateFPS > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RateFPS), int(cfg.RateFPS)+1)
	}
	return o
}

// Run drains the ring until ctx is cancelled, flushing the exporter both
// when no record arrives for FlushInterval and on exit.
func (o *Output) Run(ctx context.Context) error {
	scratch := make([]byte, ipfix.DefaultMTU)

	for {
		popCtx, cancel := context.WithTimeout(ctx, FlushInterval)
		rec, err := o.cfg.Ring.Pop(popCtx)
		cancel()

		switch {
		case err == nil:
			if o.limiter != nil {
				if werr := o.limiter.Wait(ctx); werr != nil {
					return o.finalFlush(werr)
				}
			}
			if err := o.export(ctx, scratch, rec); err != nil {
				return o.finalFlush(err)
			}
			o.cfg.Cache.Return(rec)
			continue
		case errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return o.finalFlush(nil)
			}
			if ferr := o.cfg.Exporter.Flush(ctx); ferr != nil {
				return o.finalFlush(ferr)
			}
			continue
		default:
			return o.finalFlush(err)
		}
	}
}

func (o *Output) export(ctx context.Context, scratch []byte, rec *flow.Record) error {
	tmpl := o.cfg.Exporter.Manager().TemplateFor(rec)
	if err := o.cfg.Exporter.EnsureTemplate(ctx, tmpl); err != nil {
		return err
	}

	n, err := ipfix.EncodeRecord(rec, scratch)
	if err != nil {
		if errors.Is(err, ipfix.ErrRecordTooLarge) {
			o.dropOversizeRecord(err)
			return nil
		}
		return err
	}

	if err := o.cfg.Exporter.AddRecord(ctx, tmpl, scratch[:n]); err != nil {
		if errors.Is(err, ipfix.ErrRecordTooLarge) {
			o.dropOversizeRecord(err)
			return nil
		}
		return err
	}
	if o.cfg.FlowLog != nil {
		o.cfg.FlowLog.WriteFlow(rec)
	}
	o.flowsExported++
	return nil
}

// dropOversizeRecord counts a record that couldn't be encoded or fit
// even a freshly flushed message: flush-and-retry once, then drop
// rather than abort the worker.
func (o *Output) dropOversizeRecord(cause error) {
	o.recordsDropped++
	if o.cfg.Logger != nil {
		o.cfg.Logger.Warn("output: dropped oversize record", "error", cause)
	}
}

func (o *Output) finalFlush(cause error) error {
	if ferr := o.cfg.Exporter.Flush(context.Background()); ferr != nil && cause == nil {
		return ferr
	}
	return cause
}

// Stats returns the number of flows exported and dropped so far.
func (o *Output) Stats() (exported, dropped uint64) {
	return o.flowsExported, o.recordsDropped
}
