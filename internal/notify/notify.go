// Package notify delivers curated records downstream, one at a time, with
// pacing between sends so the destination doesn't throttle us.
package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatcurator/internal/curation"
	"chatcurator/internal/transport"
	logx "chatcurator/pkg/logx"
)

const defaultPacing = 2 * time.Second

type Config struct {
	Destination string
	Pacing      time.Duration
}

// Dispatcher sends digests sequentially. Failures are reported per record,
// never retried here; the caller decides what "notified" means.
type Dispatcher struct {
	adapter transport.Adapter
	log     logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, adapter transport.Adapter, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{adapter: adapter, log: log}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.Pacing <= 0 {
		cfg.Pacing = defaultPacing
	}
	d.cfg = cfg
	// Token bucket of one: Wait() enforces the fixed inter-message interval.
	d.limiter = rate.NewLimiter(rate.Every(cfg.Pacing), 1)
}

// Deliver sends each record to the configured destination in order. The
// result slice is index-aligned with records; a nil Err means the transport
// accepted the send.
func (d *Dispatcher) Deliver(ctx context.Context, records []curation.Record) []curation.DeliveryResult {
	d.mu.Lock()
	dest := d.cfg.Destination
	lim := d.limiter
	d.mu.Unlock()

	results := make([]curation.DeliveryResult, 0, len(records))
	for _, r := range records {
		if err := lim.Wait(ctx); err != nil {
			results = append(results, curation.DeliveryResult{ID: r.ID, Err: err})
			continue
		}
		err := d.adapter.SendText(ctx, transport.ChatTarget{ChatID: dest}, formatRecord(r), &transport.SendOptions{DisablePreview: true})
		if err != nil {
			d.log.Warn("digest delivery failed",
				logx.String("id", r.ID),
				logx.String("source", r.Meta.SourceName),
				logx.Err(err),
			)
		} else {
			d.log.Debug("digest delivered",
				logx.String("id", r.ID),
				logx.Float64("relevance", r.Curation.Relevance),
			)
		}
		results = append(results, curation.DeliveryResult{ID: r.ID, Err: err})
	}
	return results
}
