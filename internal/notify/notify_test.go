package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chatcurator/internal/curation"
	"chatcurator/internal/store"
	"chatcurator/internal/transport"
	"chatcurator/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []string
	dests []string
	errAt map[int]error
}

func (f *fakeAdapter) Start(context.Context, chan<- []transport.Event) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                            { return nil }
func (f *fakeAdapter) ChatInfo(_ context.Context, id string) (transport.ChatInfo, error) {
	return transport.ChatInfo{ID: id}, nil
}

func (f *fakeAdapter) SendText(_ context.Context, target transport.ChatTarget, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.sent)
	f.sent = append(f.sent, text)
	f.dests = append(f.dests, target.ChatID)
	return f.errAt[i]
}

func record(id, text string, relevance float64) curation.Record {
	return curation.Record{
		Message: store.Message{
			ID:      id,
			Sender:  store.Sender{Name: "alice"},
			Content: store.Content{Text: text, Kind: "text"},
			Meta:    store.Meta{SourceID: "g1", SourceName: "Go News"},
		},
		Curation: curation.Curation{
			Relevance: relevance,
			Category:  "releases",
			Reason:    "release announcement",
			CuratedAt: time.Now(),
		},
	}
}

func TestDeliverSequentialResults(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{errAt: map[int]error{1: errors.New("flood wait")}}
	d := New(Config{Destination: "777", Pacing: time.Millisecond}, ad, logx.Nop())

	records := []curation.Record{
		record("a", "first", 0.9),
		record("b", "second", 0.8),
		record("c", "third", 0.7),
	}
	results := d.Deliver(context.Background(), records)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].ID != want {
			t.Fatalf("results[%d].ID = %s, want %s", i, results[i].ID, want)
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Fatalf("unexpected errors: %v, %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Fatal("failed send reported nil error")
	}

	ad.mu.Lock()
	defer ad.mu.Unlock()
	for _, dest := range ad.dests {
		if dest != "777" {
			t.Fatalf("sent to %s, want 777", dest)
		}
	}
}

func TestDeliverPacesSends(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	d := New(Config{Destination: "777", Pacing: 50 * time.Millisecond}, ad, logx.Nop())

	start := time.Now()
	d.Deliver(context.Background(), []curation.Record{
		record("a", "one", 0.9),
		record("b", "two", 0.8),
		record("c", "three", 0.7),
	})
	elapsed := time.Since(start)

	// First send uses the bucket's initial token; the remaining two wait.
	if elapsed < 100*time.Millisecond {
		t.Fatalf("three sends took %v, want at least 100ms of pacing", elapsed)
	}
}

func TestDeliverCancelledContext(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	d := New(Config{Destination: "777", Pacing: time.Hour}, ad, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results := d.Deliver(ctx, []curation.Record{
		record("a", "one", 0.9),
		record("b", "two", 0.8),
	})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// With an hour of pacing, at most the first record goes out.
	if results[1].Err == nil {
		t.Fatal("second record delivered despite cancelled context")
	}
}

func TestFormatRecord(t *testing.T) {
	t.Parallel()
	got := formatRecord(record("a", "Go 1.25 is out with faster maps", 0.87))

	for _, want := range []string{
		"Curated: Go 1.25 is out",
		"Source: Go News",
		"From: alice",
		"Relevance: 87%",
		"(releases)",
		"Why: release announcement",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("digest missing %q:\n%s", want, got)
		}
	}
}

func TestFormatRecordFallsBackToSourceID(t *testing.T) {
	t.Parallel()
	r := record("a", "text", 0.5)
	r.Meta.SourceName = ""
	if got := formatRecord(r); !strings.Contains(got, "Source: g1") {
		t.Fatalf("digest missing source id fallback:\n%s", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hel…"},
		{"héllo wörld", 6, "héllo…"},
		{"x", 0, ""},
		{"abc", 1, "a"},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
