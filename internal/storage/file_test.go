package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatcurator/internal/curation"
	"chatcurator/internal/store"
	"chatcurator/pkg/logx"
)

func openTestFileStore(t *testing.T) Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "curator.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatal("Open returned nil store for file driver")
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenDisabledDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "  None  "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store, want nil", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("Open(redis) succeeded, want error")
	}
}

func TestOpenFileRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("Open(file) without path succeeded, want error")
	}
}

func TestFileMessagesRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestFileStore(t)
	ctx := context.Background()

	// First load on a fresh store: no data, no error.
	_, ok, err := st.LoadMessages(ctx)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if ok {
		t.Fatal("fresh store reported existing messages")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	processedAt := now.Add(time.Second)
	snap := store.Snapshot{
		LastUpdated: now,
		Stats: map[string]store.SourceStats{
			"g1": {Count: 1, Total: 7, LastAccepted: now},
		},
		Messages: map[string][]store.Message{
			"g1": {{
				ID:        "m1",
				Timestamp: now,
				Sender:    store.Sender{ID: "u1", Name: "alice"},
				Content:   store.Content{Text: "hello", Kind: "text"},
				Meta: store.Meta{
					SourceID:    "g1",
					SourceName:  "Test Group",
					Processed:   true,
					ProcessedAt: &processedAt,
					ScrapedAt:   now,
				},
			}},
		},
	}
	if err := st.SaveMessages(ctx, snap); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	got, ok, err := st.LoadMessages(ctx)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if !ok {
		t.Fatal("saved messages not found")
	}
	msgs := got.Messages["g1"]
	if len(msgs) != 1 {
		t.Fatalf("loaded %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.ID != "m1" || m.Content.Text != "hello" || !m.Meta.Processed {
		t.Fatalf("loaded message = %+v", m)
	}
	if m.Meta.ProcessedAt == nil || !m.Meta.ProcessedAt.Equal(processedAt) {
		t.Fatalf("processedAt = %v, want %v", m.Meta.ProcessedAt, processedAt)
	}
	if got.Stats["g1"].Total != 7 {
		t.Fatalf("stats total = %d, want 7", got.Stats["g1"].Total)
	}
}

func TestFileLedgerRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestFileStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	snap := curation.LedgerSnapshot{
		LastUpdated:    now,
		TotalEvaluated: 12,
		TotalRelevant:  2,
		TotalMessages:  1,
		Messages: []curation.Record{{
			Message: store.Message{
				ID:        "m1",
				Timestamp: now,
				Content:   store.Content{Text: "big news", Kind: "text"},
				Meta:      store.Meta{SourceID: "g1", SourceName: "Test Group"},
			},
			Curation: curation.Curation{
				Relevance: 0.92,
				Category:  "releases",
				Reason:    "matches the profile",
				CuratedAt: now,
			},
			Notified: true,
		}},
	}
	if err := st.SaveLedger(ctx, snap); err != nil {
		t.Fatalf("SaveLedger: %v", err)
	}

	got, ok, err := st.LoadLedger(ctx)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if !ok || len(got.Messages) != 1 {
		t.Fatalf("loaded ledger = %+v", got)
	}
	r := got.Messages[0]
	if r.ID != "m1" || r.Curation.Relevance != 0.92 || !r.Notified {
		t.Fatalf("loaded record = %+v", r)
	}
	if got.TotalEvaluated != 12 || got.TotalRelevant != 2 {
		t.Fatalf("totals = %d/%d, want 12/2", got.TotalEvaluated, got.TotalRelevant)
	}
}

func TestFileSaveOverwritesWholesale(t *testing.T) {
	t.Parallel()
	st := openTestFileStore(t)
	ctx := context.Background()

	first := store.Snapshot{Messages: map[string][]store.Message{
		"g1": {{ID: "old"}},
		"g2": {{ID: "other"}},
	}}
	if err := st.SaveMessages(ctx, first); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	second := store.Snapshot{Messages: map[string][]store.Message{
		"g1": {{ID: "new"}},
	}}
	if err := st.SaveMessages(ctx, second); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	got, _, err := st.LoadMessages(ctx)
	if err != nil {
		t.Fatalf("LoadMessages: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages["g1"][0].ID != "new" {
		t.Fatalf("loaded = %+v, want only the second snapshot", got.Messages)
	}
}

func TestFileCorruptSnapshotSurfacesError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "curator.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := os.WriteFile(filepath.Join(dir, "curator.messages.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, _, err := st.LoadMessages(context.Background()); err == nil {
		t.Fatal("LoadMessages on corrupt file succeeded, want error")
	}
}
