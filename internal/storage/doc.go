// Package storage provides the durable mirror behind the in-memory pipeline.
//
// It persists two wholesale snapshot documents:
//   - the per-source message store ({lastUpdated, stats, messages})
//   - the relevance ledger ({lastUpdated, totals, messages})
//
// In-memory state is authoritative; every persist is best-effort and the next
// successful one carries any change a failed write missed.
package storage
