package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatcurator/internal/transport"
	"chatcurator/pkg/logx"
)

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, sourceID string) string {
	return "name-" + sourceID
}

type fakeProcessor struct {
	mu      sync.Mutex
	seen    []string
	inUse   int
	maxUse  int
	stall   time.Duration
	failIDs map[string]bool
	panicID string
}

func (f *fakeProcessor) Add(_ context.Context, sourceID, _ string, ev transport.Event) (bool, error) {
	f.mu.Lock()
	f.inUse++
	if f.inUse > f.maxUse {
		f.maxUse = f.inUse
	}
	f.seen = append(f.seen, ev.ID)
	stall := f.stall
	f.mu.Unlock()

	if ev.ID == f.panicID {
		f.mu.Lock()
		f.inUse--
		f.mu.Unlock()
		panic("boom: " + ev.ID)
	}
	if stall > 0 {
		time.Sleep(stall)
	}

	f.mu.Lock()
	f.inUse--
	failed := f.failIDs[ev.ID]
	f.mu.Unlock()

	if failed {
		return false, errors.New("store unavailable")
	}
	return true, nil
}

func events(n int) []transport.Event {
	out := make([]transport.Event, n)
	for i := range out {
		out[i] = transport.Event{ID: fmt.Sprintf("e%d", i), SourceID: "g1", Text: "hi"}
	}
	return out
}

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

func TestQueueProcessesEverything(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{}
	q := New(Config{Workers: 3}, staticResolver{}, proc, logx.Nop())
	q.Start(context.Background())

	q.Enqueue(events(20))
	waitIdle(t, q)

	st := q.Stats()
	if st.Enqueued != 20 || st.Processed != 20 || st.Accepted != 20 {
		t.Fatalf("stats = %+v, want 20 enqueued/processed/accepted", st)
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.seen) != 20 {
		t.Fatalf("processor saw %d events, want 20", len(proc.seen))
	}
}

func TestQueueBoundsConcurrency(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{stall: 20 * time.Millisecond}
	q := New(Config{Workers: 2}, staticResolver{}, proc, logx.Nop())
	q.Start(context.Background())

	q.Enqueue(events(12))
	waitIdle(t, q)

	proc.mu.Lock()
	defer proc.mu.Unlock()
	if proc.maxUse > 2 {
		t.Fatalf("max concurrent workers = %d, want <= 2", proc.maxUse)
	}
}

func TestQueueSkipsSelfEvents(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{}
	q := New(Config{Workers: 1}, staticResolver{}, proc, logx.Nop())
	q.Start(context.Background())

	q.Enqueue([]transport.Event{
		{ID: "mine", SourceID: "g1", Text: "me", FromSelf: true},
		{ID: "theirs", SourceID: "g1", Text: "them"},
	})
	waitIdle(t, q)

	st := q.Stats()
	if st.Enqueued != 1 || st.Processed != 1 {
		t.Fatalf("stats = %+v, want exactly the non-self event", st)
	}
}

func TestQueueHoldsBacklogUntilStart(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{}
	q := New(Config{Workers: 2}, staticResolver{}, proc, logx.Nop())

	q.Enqueue(events(3))
	if st := q.Stats(); st.Backlog != 3 || st.Processed != 0 {
		t.Fatalf("stats before Start = %+v, want backlog=3 processed=0", st)
	}

	q.Start(context.Background())
	waitIdle(t, q)
	if st := q.Stats(); st.Processed != 3 {
		t.Fatalf("stats after Start = %+v, want processed=3", st)
	}
}

func TestQueueSurvivesWorkerPanic(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{panicID: "e1"}
	q := New(Config{Workers: 1}, staticResolver{}, proc, logx.Nop())
	q.Start(context.Background())

	q.Enqueue(events(4))
	waitIdle(t, q)

	// The panicking event's worker dies alone; the rest still flows.
	st := q.Stats()
	if st.Backlog != 0 || st.Active != 0 {
		t.Fatalf("stats = %+v, want drained queue", st)
	}
	proc.mu.Lock()
	defer proc.mu.Unlock()
	if len(proc.seen) != 4 {
		t.Fatalf("processor saw %d events, want 4", len(proc.seen))
	}
}

func TestQueueCountsFailures(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{failIDs: map[string]bool{"e0": true}}
	q := New(Config{Workers: 2}, staticResolver{}, proc, logx.Nop())
	q.Start(context.Background())

	q.Enqueue(events(3))
	waitIdle(t, q)

	st := q.Stats()
	if st.Processed != 3 || st.Accepted != 2 || st.Failed != 1 {
		t.Fatalf("stats = %+v, want processed=3 accepted=2 failed=1", st)
	}
}
