// Package store is the gatekeeper between raw inbound events and durable
// state: it filters, throttles, retains a bounded window per source, tracks
// which messages curation has consumed, and mirrors everything to the
// configured durable backend.
package store

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"chatcurator/internal/transport"
	logx "chatcurator/pkg/logx"
)

// Config controls filtering, throttling, and retention.
type Config struct {
	MaxPerSource     int // ring capacity per source ledger
	MaxPerMinute     int // accepted messages per source per minute
	MinLength        int // runes
	MaxLength        int // runes
	IncludeMedia     bool
	IncludeForwarded bool

	// Optional human-like pause before accepting (burst absorption only).
	DelayEnabled bool
	DelayMin     time.Duration
	DelayMax     time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPerSource <= 0 {
		c.MaxPerSource = 100
	}
	if c.MaxPerMinute <= 0 {
		c.MaxPerMinute = 10
	}
	if c.MinLength <= 0 {
		c.MinLength = 1
	}
	if c.MaxLength <= 0 {
		c.MaxLength = 4096
	}
	if c.DelayMin <= 0 {
		c.DelayMin = 500 * time.Millisecond
	}
	if c.DelayMax <= 0 {
		c.DelayMax = 2 * time.Second
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = c.DelayMin
	}
	return c
}

// Mirror is the durable backend the store persists snapshots to.
// Implementations live in internal/storage.
type Mirror interface {
	SaveMessages(ctx context.Context, snap Snapshot) error
	LoadMessages(ctx context.Context) (Snapshot, bool, error)
}

// ledger is the per-source bounded window plus rate-limit state.
type ledger struct {
	messages     []Message
	total        int64
	lastAccepted time.Time
	lim          *rate.Limiter // burst 1: one accepted message per interval
	seq          int64         // for generated ids
}

// limitFor converts max-per-minute into the limiter's refill rate.
func limitFor(cfg Config) rate.Limit {
	return rate.Every(time.Minute / time.Duration(cfg.MaxPerMinute))
}

func newLedger(cfg Config) *ledger {
	return &ledger{lim: rate.NewLimiter(limitFor(cfg), 1)}
}

// Store owns all source ledgers. All shared state sits behind one mutex;
// persistence runs outside the lock on a copied snapshot.
type Store struct {
	mu      sync.Mutex
	cfg     Config
	ledgers map[string]*ledger

	mirror Mirror // nil = persistence disabled
	log    logx.Logger

	// onAccept is invoked (on its own goroutine) after each durable write.
	// The app wires this to the curation trigger.
	onAccept func()
}

func New(cfg Config, mirror Mirror, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		cfg:     cfg.withDefaults(),
		ledgers: map[string]*ledger{},
		mirror:  mirror,
		log:     log,
	}
}

// SetOnAccept installs the post-write hook. Must be called before Add.
func (s *Store) SetOnAccept(fn func()) { s.onAccept = fn }

// Apply swaps filter/throttle/retention settings at runtime.
// Existing ledgers keep their contents; a lowered capacity takes effect on the
// next append.
func (s *Store) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	for _, lg := range s.ledgers {
		lg.lim.SetLimit(limitFor(s.cfg))
	}
	s.mu.Unlock()
}

// Add runs the full admission path for one inbound event: filters, the
// per-source rate limit, the optional human delay, append with oldest-first
// eviction, persist, and the curation hook.
//
// Filter and throttle rejections are normal control flow: (false, nil).
func (s *Store) Add(ctx context.Context, sourceID, sourceName string, ev transport.Event) (bool, error) {
	if sourceID == "" {
		return false, nil
	}

	now := time.Now()

	s.mu.Lock()
	cfg := s.cfg
	if !passesFilters(cfg, ev) {
		s.mu.Unlock()
		return false, nil
	}
	lg := s.ledgers[sourceID]
	if lg == nil {
		lg = newLedger(cfg)
		s.ledgers[sourceID] = lg
	}
	// Allow consumes the source's token at admission, before the human delay,
	// so a concurrent Add for the same source can't slip past the limit while
	// this one sleeps. A rejected Allow consumes nothing.
	if !lg.lim.Allow() {
		s.mu.Unlock()
		return false, nil
	}
	lg.lastAccepted = now
	s.mu.Unlock()

	if cfg.DelayEnabled {
		if err := s.humanDelay(ctx, cfg); err != nil {
			return false, err
		}
	}

	msg := s.canonicalize(sourceID, sourceName, ev, now)

	s.mu.Lock()
	// Re-fetch: Clear/ClearAll may have dropped the ledger during the delay.
	lg = s.ledgers[sourceID]
	if lg == nil {
		lg = newLedger(cfg)
		// This accept already holds the recreated ledger's slot.
		lg.lim.AllowN(now, 1)
		lg.lastAccepted = now
		s.ledgers[sourceID] = lg
	}
	// Ids are unique per ledger; a redelivered event is a silent no-op.
	for _, m := range lg.messages {
		if m.ID == msg.ID {
			s.mu.Unlock()
			return false, nil
		}
	}
	if len(lg.messages) >= cfg.MaxPerSource {
		// Evict strictly oldest-first.
		drop := len(lg.messages) - cfg.MaxPerSource + 1
		lg.messages = append(lg.messages[:0], lg.messages[drop:]...)
	}
	lg.messages = append(lg.messages, msg)
	lg.total++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, snap)

	if s.onAccept != nil {
		go s.onAccept()
	}
	return true, nil
}

func passesFilters(cfg Config, ev transport.Event) bool {
	if ev.FromSelf {
		return false
	}
	if ev.HasMedia && !cfg.IncludeMedia {
		return false
	}
	if ev.IsForwarded && !cfg.IncludeForwarded {
		return false
	}
	n := utf8.RuneCountInString(ev.Text)
	if n < cfg.MinLength || n > cfg.MaxLength {
		return false
	}
	return true
}

func (s *Store) humanDelay(ctx context.Context, cfg Config) error {
	span := cfg.DelayMax - cfg.DelayMin
	d := cfg.DelayMin
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

func (s *Store) canonicalize(sourceID, sourceName string, ev transport.Event, now time.Time) Message {
	id := ev.ID
	if id == "" {
		s.mu.Lock()
		lg := s.ledgers[sourceID]
		var seq int64
		if lg != nil {
			lg.seq++
			seq = lg.seq
		}
		id = fmt.Sprintf("%s:%d:%d", sourceID, now.UnixMilli(), seq)
		s.mu.Unlock()
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = now
	}
	kind := ev.Kind
	if kind == "" {
		kind = "text"
	}
	return Message{
		ID:        id,
		Timestamp: ts,
		Sender: Sender{
			ID:     ev.SenderID,
			Name:   ev.SenderName,
			IsSelf: ev.FromSelf,
		},
		Content: Content{
			Text:        ev.Text,
			Kind:        kind,
			HasMedia:    ev.HasMedia,
			IsForwarded: ev.IsForwarded,
			QuotedID:    ev.QuotedID,
		},
		Meta: Meta{
			SourceID:   sourceID,
			SourceName: sourceName,
			ScrapedAt:  now,
		},
	}
}

// Messages returns a copy of one source ledger, oldest first.
func (s *Store) Messages(sourceID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	lg := s.ledgers[sourceID]
	if lg == nil {
		return nil
	}
	return append([]Message(nil), lg.messages...)
}

// All returns a copy of every ledger keyed by source id.
func (s *Store) All() map[string][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Message, len(s.ledgers))
	for id, lg := range s.ledgers {
		out[id] = append([]Message(nil), lg.messages...)
	}
	return out
}

// Stats reports per-source counts and last-accepted timestamps.
func (s *Store) Stats() map[string]SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

func (s *Store) statsLocked() map[string]SourceStats {
	out := make(map[string]SourceStats, len(s.ledgers))
	for id, lg := range s.ledgers {
		out[id] = SourceStats{
			Count:        len(lg.messages),
			Total:        lg.total,
			LastAccepted: lg.lastAccepted,
		}
	}
	return out
}

// Unprocessed returns every retained message with processed=false, across all
// sources. The result is the curation candidate batch.
func (s *Store) Unprocessed() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, lg := range s.ledgers {
		for _, m := range lg.messages {
			if !m.Meta.Processed {
				out = append(out, m)
			}
		}
	}
	return out
}

// HasUnprocessed is the cheap gate the orchestrator checks before ranking.
func (s *Store) HasUnprocessed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lg := range s.ledgers {
		for _, m := range lg.messages {
			if !m.Meta.Processed {
				return true
			}
		}
	}
	return false
}

// MarkProcessed flips processed=true for the given ids across all ledgers and
// persists. Re-marking an already-processed id is a no-op. Returns how many
// flags actually flipped.
func (s *Store) MarkProcessed(ctx context.Context, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	now := time.Now()
	s.mu.Lock()
	flipped := 0
	for _, lg := range s.ledgers {
		for i := range lg.messages {
			m := &lg.messages[i]
			if m.Meta.Processed {
				continue
			}
			if _, ok := want[m.ID]; !ok {
				continue
			}
			m.Meta.Processed = true
			t := now
			m.Meta.ProcessedAt = &t
			flipped++
		}
	}
	var snap Snapshot
	if flipped > 0 {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if flipped > 0 {
		s.persist(ctx, snap)
	}
	return flipped
}

// Clear drops one source ledger. Returns how many messages were removed.
func (s *Store) Clear(ctx context.Context, sourceID string) int {
	s.mu.Lock()
	lg := s.ledgers[sourceID]
	n := 0
	if lg != nil {
		n = len(lg.messages)
		delete(s.ledgers, sourceID)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if n > 0 {
		s.persist(ctx, snap)
	}
	return n
}

// ClearAll drops every ledger. Returns how many messages were removed.
func (s *Store) ClearAll(ctx context.Context) int {
	s.mu.Lock()
	n := 0
	for _, lg := range s.ledgers {
		n += len(lg.messages)
	}
	s.ledgers = map[string]*ledger{}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.persist(ctx, snap)
	return n
}

// Save persists the current snapshot on demand ("save now").
func (s *Store) Save(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	return s.mirror.SaveMessages(ctx, snap)
}

// Load restores ledgers from the durable mirror. Existing in-memory state is
// replaced. Missing mirror data is not an error (fresh start).
func (s *Store) Load(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	snap, ok, err := s.mirror.LoadMessages(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers = make(map[string]*ledger, len(snap.Messages))
	for id, msgs := range snap.Messages {
		lg := newLedger(s.cfg)
		lg.messages = append([]Message(nil), msgs...)
		if st, ok := snap.Stats[id]; ok {
			lg.total = st.Total
			lg.lastAccepted = st.LastAccepted
		} else if n := len(msgs); n > 0 {
			lg.total = int64(n)
			lg.lastAccepted = msgs[n-1].Timestamp
		}
		// Backdate the token to the last acceptance so the rate limit spans
		// restarts instead of resetting.
		if !lg.lastAccepted.IsZero() {
			lg.lim.AllowN(lg.lastAccepted, 1)
		}
		s.ledgers[id] = lg
	}
	return nil
}

func (s *Store) snapshotLocked() Snapshot {
	msgs := make(map[string][]Message, len(s.ledgers))
	for id, lg := range s.ledgers {
		msgs[id] = append([]Message(nil), lg.messages...)
	}
	return Snapshot{
		LastUpdated: time.Now(),
		Stats:       s.statsLocked(),
		Messages:    msgs,
	}
}

// persist mirrors a snapshot, best-effort. In-memory state is authoritative;
// a failed write is logged and the next successful persist carries the change.
func (s *Store) persist(ctx context.Context, snap Snapshot) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.SaveMessages(ctx, snap); err != nil {
		s.log.Warn("store persist failed", logx.Err(err))
	}
}
