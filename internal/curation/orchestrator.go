// Package curation runs the backlog-to-digest cycle: batch unprocessed
// messages, rank them against the interest profile, merge winners into the
// deduplicated relevance ledger, and hand new entries to the notifier.
package curation

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatcurator/internal/ranking"
	"chatcurator/internal/store"
	logx "chatcurator/pkg/logx"
)

const defaultTopK = 3

type Config struct {
	Enabled bool
	TopK    int
	Profile string
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	return c
}

// Orchestrator owns the relevance ledger and serializes curation cycles, so
// the write-triggered, cron-triggered, and manual paths can race safely.
type Orchestrator struct {
	src      Source
	ranker   ranking.Ranker
	notifier Notifier // nil = delivery disabled
	mirror   Mirror   // nil = persistence disabled
	log      logx.Logger

	cfgMu sync.Mutex
	cfg   Config

	// cycleMu serializes Run; the processed flag then guarantees a later
	// cycle never re-ranks what an earlier one consumed.
	cycleMu sync.Mutex

	ledgerMu       sync.Mutex
	ledger         []Record
	totalEvaluated int64
	totalRelevant  int64

	// async trigger state: collapse bursts of triggers into one pending rerun.
	trigMu  sync.Mutex
	running bool
	pending bool
	runCtx  context.Context
}

func New(cfg Config, src Source, ranker ranking.Ranker, notifier Notifier, mirror Mirror, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		src:      src,
		ranker:   ranker,
		notifier: notifier,
		mirror:   mirror,
		log:      log,
		runCtx:   context.Background(),
	}
}

// Start installs the context async triggers run under.
func (o *Orchestrator) Start(ctx context.Context) {
	o.trigMu.Lock()
	o.runCtx = ctx
	o.trigMu.Unlock()
}

func (o *Orchestrator) Apply(cfg Config) {
	o.cfgMu.Lock()
	o.cfg = cfg.withDefaults()
	o.cfgMu.Unlock()
}

// Trigger schedules an asynchronous cycle. If one is already in flight the
// trigger collapses into a single rerun once it finishes, so a write burst
// costs at most one extra ranking call.
func (o *Orchestrator) Trigger() {
	o.trigMu.Lock()
	if o.running {
		o.pending = true
		o.trigMu.Unlock()
		return
	}
	o.running = true
	ctx := o.runCtx
	o.trigMu.Unlock()

	go o.triggerLoop(ctx)
}

func (o *Orchestrator) triggerLoop(ctx context.Context) {
	for {
		if _, err := o.Run(ctx); err != nil {
			o.log.Warn("curation cycle failed", logx.Err(err))
		}
		o.trigMu.Lock()
		if o.pending && ctx.Err() == nil {
			o.pending = false
			o.trigMu.Unlock()
			continue
		}
		o.running = false
		o.pending = false
		o.trigMu.Unlock()
		return
	}
}

// Run executes one cycle: check backlog, batch, rank, merge, deliver, mark.
// A ranking failure aborts with no state change; the backlog stays
// unprocessed and is retried on the next trigger.
func (o *Orchestrator) Run(ctx context.Context) (CycleResult, error) {
	o.cfgMu.Lock()
	cfg := o.cfg
	o.cfgMu.Unlock()
	if !cfg.Enabled {
		return CycleResult{Skipped: true}, nil
	}

	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	if !o.src.HasUnprocessed() {
		return CycleResult{Skipped: true}, nil
	}

	batch := o.src.Unprocessed()
	if len(batch) == 0 {
		return CycleResult{Skipped: true}, nil
	}

	candidates := toCandidates(batch)
	topK := cfg.TopK
	if topK > len(candidates) {
		topK = len(candidates)
	}

	verdicts, err := o.ranker.Rank(ctx, candidates, cfg.Profile, topK)
	if err != nil {
		return CycleResult{Evaluated: len(candidates)}, err
	}

	fresh := o.merge(ctx, batch, verdicts)

	// Every candidate is consumed by this cycle, selected or not, so the
	// backlog can't grow unboundedly and nothing is ranked twice.
	ids := make([]string, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}
	o.src.MarkProcessed(ctx, ids)

	res := CycleResult{Evaluated: len(candidates), Selected: len(fresh)}
	if len(fresh) > 0 && o.notifier != nil {
		results := o.notifier.Deliver(ctx, fresh)
		res.Delivered, res.Failed = o.recordDelivery(ctx, results)
	}

	o.log.Info("curation cycle finished",
		logx.Int("evaluated", res.Evaluated),
		logx.Int("selected", res.Selected),
		logx.Int("delivered", res.Delivered),
		logx.Int("failed", res.Failed),
	)
	return res, nil
}

// merge appends records for included verdicts not already in the ledger,
// re-sorts descending by relevance, and persists.
func (o *Orchestrator) merge(ctx context.Context, batch []store.Message, verdicts []ranking.Verdict) []Record {
	byID := make(map[string]store.Message, len(batch))
	for _, m := range batch {
		byID[m.ID] = m
	}

	now := time.Now()
	o.ledgerMu.Lock()
	existing := make(map[string]struct{}, len(o.ledger))
	for _, r := range o.ledger {
		existing[r.ID] = struct{}{}
	}

	var fresh []Record
	for _, v := range verdicts {
		if !v.Include {
			continue
		}
		if _, dup := existing[v.ID]; dup {
			// Curated once is curated forever; never re-added.
			continue
		}
		msg, ok := byID[v.ID]
		if !ok {
			continue
		}
		fresh = append(fresh, Record{
			Message: msg,
			Curation: Curation{
				Relevance: v.Relevance,
				Category:  v.Category,
				Reason:    v.Reason,
				CuratedAt: now,
			},
		})
	}

	o.totalEvaluated += int64(len(batch))
	o.totalRelevant += int64(len(fresh))
	o.ledger = append(o.ledger, fresh...)
	sort.SliceStable(o.ledger, func(i, j int) bool {
		return o.ledger[i].Curation.Relevance > o.ledger[j].Curation.Relevance
	})
	snap := o.snapshotLocked()
	o.ledgerMu.Unlock()

	o.persist(ctx, snap)
	return fresh
}

// recordDelivery flips notified on successfully delivered records only,
// then persists the ledger once.
func (o *Orchestrator) recordDelivery(ctx context.Context, results []DeliveryResult) (delivered, failed int) {
	now := time.Now()
	o.ledgerMu.Lock()
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		delivered++
		for i := range o.ledger {
			if o.ledger[i].ID == r.ID {
				o.ledger[i].Notified = true
				t := now
				o.ledger[i].NotifiedAt = &t
				break
			}
		}
	}
	snap := o.snapshotLocked()
	o.ledgerMu.Unlock()

	if delivered > 0 {
		o.persist(ctx, snap)
	}
	return delivered, failed
}

// Ledger returns a copy of the relevance ledger, most relevant first.
func (o *Orchestrator) Ledger() []Record {
	o.ledgerMu.Lock()
	defer o.ledgerMu.Unlock()
	return append([]Record(nil), o.ledger...)
}

// Load restores the ledger from the durable mirror.
func (o *Orchestrator) Load(ctx context.Context) error {
	if o.mirror == nil {
		return nil
	}
	snap, ok, err := o.mirror.LoadLedger(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	o.ledgerMu.Lock()
	o.ledger = append([]Record(nil), snap.Messages...)
	o.totalEvaluated = snap.TotalEvaluated
	o.totalRelevant = snap.TotalRelevant
	sort.SliceStable(o.ledger, func(i, j int) bool {
		return o.ledger[i].Curation.Relevance > o.ledger[j].Curation.Relevance
	})
	o.ledgerMu.Unlock()
	return nil
}

func (o *Orchestrator) snapshotLocked() LedgerSnapshot {
	return LedgerSnapshot{
		LastUpdated:    time.Now(),
		TotalEvaluated: o.totalEvaluated,
		TotalRelevant:  o.totalRelevant,
		TotalMessages:  len(o.ledger),
		Messages:       append([]Record(nil), o.ledger...),
	}
}

func (o *Orchestrator) persist(ctx context.Context, snap LedgerSnapshot) {
	if o.mirror == nil {
		return
	}
	if err := o.mirror.SaveLedger(ctx, snap); err != nil {
		o.log.Warn("ledger persist failed", logx.Err(err))
	}
}

func toCandidates(batch []store.Message) []ranking.Candidate {
	out := make([]ranking.Candidate, len(batch))
	for i, m := range batch {
		out[i] = ranking.Candidate{
			ID:         m.ID,
			SourceID:   m.Meta.SourceID,
			SourceName: m.Meta.SourceName,
			Sender:     m.Sender.Name,
			Text:       m.Content.Text,
			Timestamp:  m.Timestamp,
		}
	}
	return out
}
