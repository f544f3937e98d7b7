package curation

import (
	"context"
	"time"

	"chatcurator/internal/store"
)

// Curation is the ranking annotation attached to a selected message.
type Curation struct {
	Relevance float64   `json:"relevance"`
	Category  string    `json:"category"`
	Reason    string    `json:"reason"`
	CuratedAt time.Time `json:"curatedAt"`
}

// Record is a stored message that made the cut, plus its delivery state.
// Records are append-only except for the notified flag.
type Record struct {
	store.Message
	Curation   Curation   `json:"curation"`
	Notified   bool       `json:"notified"`
	NotifiedAt *time.Time `json:"notifiedAt,omitempty"`
}

// LedgerSnapshot is the wholesale durable mirror of the relevance ledger.
type LedgerSnapshot struct {
	LastUpdated    time.Time `json:"lastUpdated"`
	TotalEvaluated int64     `json:"totalEvaluated"`
	TotalRelevant  int64     `json:"totalRelevant"`
	TotalMessages  int       `json:"totalMessages"`
	Messages       []Record  `json:"messages"`
}

// Mirror persists the relevance ledger. Implementations live in internal/storage.
type Mirror interface {
	SaveLedger(ctx context.Context, snap LedgerSnapshot) error
	LoadLedger(ctx context.Context) (LedgerSnapshot, bool, error)
}

// DeliveryResult reports the outcome for one record handed to the notifier.
type DeliveryResult struct {
	ID  string
	Err error
}

// Notifier delivers freshly curated records downstream.
type Notifier interface {
	Deliver(ctx context.Context, records []Record) []DeliveryResult
}

// Source is the store surface the orchestrator consumes.
type Source interface {
	HasUnprocessed() bool
	Unprocessed() []store.Message
	MarkProcessed(ctx context.Context, ids []string) int
}

// CycleResult summarizes one curation cycle.
type CycleResult struct {
	Skipped   bool // empty backlog, no ranking call made
	Evaluated int  // candidates sent to the ranker
	Selected  int  // new records merged into the ledger
	Delivered int  // records the notifier confirmed sent
	Failed    int  // records the notifier could not send
}
