// Package dispatch absorbs bursts of inbound events and fans them out to the
// store with bounded parallelism, so one slow metadata fetch can't stall a
// whole batch.
package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"chatcurator/internal/transport"
	logx "chatcurator/pkg/logx"
)

const defaultWorkers = 3

// Resolver resolves a source id to a display name (the metadata cache).
type Resolver interface {
	Resolve(ctx context.Context, sourceID string) string
}

// Processor consumes one event (the per-source store).
type Processor interface {
	Add(ctx context.Context, sourceID, sourceName string, ev transport.Event) (bool, error)
}

type Config struct {
	Workers int
}

// Queue is an unbounded FIFO backlog drained by at most cfg.Workers
// concurrent workers. Admission into processing is FIFO; completion order is
// not, which is fine because the store re-imposes per-source order on append.
//
// The backlog is deliberately unbounded: no event is ever dropped here. A
// sustained burst grows memory until the transport throttles upstream.
type Queue struct {
	cfg  Config
	res  Resolver
	proc Processor
	log  logx.Logger

	mu      sync.Mutex
	backlog []transport.Event
	active  int
	runCtx  context.Context

	enqueued  uint64
	processed uint64
	accepted  uint64
	failed    uint64
}

type Stats struct {
	Backlog   int
	Active    int
	Enqueued  uint64
	Processed uint64
	Accepted  uint64
	Failed    uint64
}

func New(cfg Config, res Resolver, proc Processor, log logx.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{cfg: cfg, res: res, proc: proc, log: log}
}

// Start installs the context workers run under. Events enqueued before Start
// stay in the backlog until it is called.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	q.runCtx = ctx
	q.mu.Unlock()
	q.drain()
}

// Enqueue appends all eligible events (self-originated ones are skipped) and
// kicks draining. It never blocks and never drops an eligible event.
func (q *Queue) Enqueue(events []transport.Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	for _, ev := range events {
		if ev.FromSelf {
			continue
		}
		q.backlog = append(q.backlog, ev)
		q.enqueued++
	}
	q.mu.Unlock()
	q.drain()
}

// drain admits backlog events into processing while worker slots are free.
// Each admitted event gets its own goroutine; the goroutine re-drains when it
// finishes so the backlog keeps moving.
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.runCtx == nil || q.active >= q.cfg.Workers || len(q.backlog) == 0 {
			q.mu.Unlock()
			return
		}
		ev := q.backlog[0]
		q.backlog = q.backlog[1:]
		q.active++
		ctx := q.runCtx
		q.mu.Unlock()

		go q.work(ctx, ev)
	}
}

func (q *Queue) work(ctx context.Context, ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			// A crashed worker only affects its own event, never the pool.
			q.log.Error("panic in dispatch worker",
				logx.Any("panic", r),
				logx.String("source", ev.SourceID),
				logx.String("stack", string(debug.Stack())),
			)
		}
		q.mu.Lock()
		q.active--
		q.mu.Unlock()
		q.drain()
	}()

	name := q.res.Resolve(ctx, ev.SourceID)
	ok, err := q.proc.Add(ctx, ev.SourceID, name, ev)

	q.mu.Lock()
	q.processed++
	if ok {
		q.accepted++
	}
	if err != nil {
		q.failed++
	}
	q.mu.Unlock()

	if err != nil {
		q.log.Warn("event processing failed", logx.String("source", ev.SourceID), logx.Err(err))
	}
}

// WaitIdle blocks until the backlog is empty and no worker is in flight.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := q.active == 0 && len(q.backlog) == 0
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Backlog:   len(q.backlog),
		Active:    q.active,
		Enqueued:  q.enqueued,
		Processed: q.processed,
		Accepted:  q.accepted,
		Failed:    q.failed,
	}
}
