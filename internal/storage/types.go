package storage

import (
	"time"

	"chatcurator/internal/curation"
	"chatcurator/internal/store"
)

// Config configures the durable mirror.
//
// Driver values:
//   - "file": dependency-free JSON snapshot files (atomic overwrite)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", persistence is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store mirrors the two snapshot documents the pipeline persists: the
// per-source message store and the relevance ledger. Both are overwritten
// wholesale on every persist; there is no incremental format.
type Store interface {
	store.Mirror
	curation.Mirror
	Close() error
}
