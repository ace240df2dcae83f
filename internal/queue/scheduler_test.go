package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aathul-raj/hermes/internal/analysis"
	"github.com/aathul-raj/hermes/internal/calllog"
	"github.com/aathul-raj/hermes/internal/flow"
	"github.com/aathul-raj/hermes/internal/lifecycle"
	"github.com/aathul-raj/hermes/internal/observability"
	"github.com/aathul-raj/hermes/internal/telephony"
)

var metricsSeq atomic.Int64

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("hermes_queue_test_%d", metricsSeq.Add(1)))
}

func fastConfig() Config {
	return Config{
		PollInterval: 5 * time.Millisecond,
		CallTimeout:  100 * time.Millisecond,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// completeWhenLive stands in for the media-stream bridge: once the record
// goes in-progress it writes a transcript and the completed status.
func completeWhenLive(ctx context.Context, store calllog.Store, recordID, transcript string) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Millisecond):
			}
			rec, err := store.Get(ctx, recordID)
			if err != nil {
				continue
			}
			if rec.Status == calllog.StatusInProgress {
				_ = store.UpsertTranscript(ctx, recordID, transcript)
				_ = store.UpdateStatus(ctx, recordID, calllog.StatusCompleted, "")
				return
			}
		}
	}()
}

func seedRecord(t *testing.T, store calllog.Store, phone string) calllog.CallRecord {
	t.Helper()
	rec, err := store.Create(context.Background(), calllog.CallRecord{ToPhone: phone, Topic: "checkup"})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	return rec
}

func TestSchedulerDrainsQueueInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := calllog.NewInMemoryStore()
	tracker := lifecycle.NewTracker(store, time.Hour)
	provider := telephony.NewMockProvider()
	analyzer := analysis.NewMockAnalyzer()
	analyzer.Fixed = analysis.Result{Sentiment: "positive", Summary: "went well", Flagged: false}

	s := NewScheduler(store, provider, tracker, analyzer, NewLocalGuard(), newTestMetrics(), fastConfig())
	go s.Run(ctx)

	phones := []string{"+15550000001", "+15550000002", "+15550000003"}
	var ids []string
	for i, phone := range phones {
		rec := seedRecord(t, store, phone)
		ids = append(ids, rec.ID)
		completeWhenLive(ctx, store, rec.ID, fmt.Sprintf("User: call %d\n", i+1))
		s.Enqueue(rec.ID, flow.CallFlow{ToPhone: phone, Topic: "checkup"})
	}

	waitFor(t, "all three calls to finish", func() bool {
		return len(analyzer.Seen()) == 3 && s.Depth() == 0
	})

	placed := provider.Placed()
	if len(placed) != 3 {
		t.Fatalf("placed %d calls, want 3", len(placed))
	}
	for i, phone := range phones {
		if placed[i] != phone {
			t.Fatalf("placed[%d] = %q, want %q (strict FIFO)", i, placed[i], phone)
		}
	}
	for i, id := range ids {
		rec, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get record: %v", err)
		}
		if rec.Status != calllog.StatusCompleted {
			t.Fatalf("record %d status = %q, want completed", i, rec.Status)
		}
		if rec.Sentiment != "positive" || rec.Summary != "went well" {
			t.Fatalf("record %d missing analysis: %+v", i, rec)
		}
	}
	seen := analyzer.Seen()
	for i := range seen {
		if want := fmt.Sprintf("User: call %d\n", i+1); seen[i] != want {
			t.Fatalf("analysis input[%d] = %q, want %q", i, seen[i], want)
		}
	}
}

func TestSchedulerTimeoutAdvancesPastStuckCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := calllog.NewInMemoryStore()
	tracker := lifecycle.NewTracker(store, time.Hour)
	provider := telephony.NewMockProvider()
	analyzer := analysis.NewMockAnalyzer()

	s := NewScheduler(store, provider, tracker, analyzer, NewLocalGuard(), newTestMetrics(), fastConfig())
	go s.Run(ctx)

	first := seedRecord(t, store, "+15550000001")
	stuck := seedRecord(t, store, "+15550000002")
	third := seedRecord(t, store, "+15550000003")

	completeWhenLive(ctx, store, first.ID, "User: one\n")
	// The second record never completes: its call answers and hangs.
	completeWhenLive(ctx, store, third.ID, "User: three\n")

	s.Enqueue(first.ID, flow.CallFlow{ToPhone: first.ToPhone})
	s.Enqueue(stuck.ID, flow.CallFlow{ToPhone: stuck.ToPhone})
	s.Enqueue(third.ID, flow.CallFlow{ToPhone: third.ToPhone})

	waitFor(t, "queue to drain past the stuck call", func() bool {
		rec, err := store.Get(ctx, third.ID)
		return err == nil && rec.Status == calllog.StatusCompleted && s.Depth() == 0
	})

	rec, err := store.Get(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("get stuck record: %v", err)
	}
	if rec.Status != calllog.StatusError {
		t.Fatalf("stuck record status = %q, want error", rec.Status)
	}
	if !strings.Contains(rec.Reason, "timeout") {
		t.Fatalf("stuck record reason = %q, want a timeout reason", rec.Reason)
	}
	if placed := provider.Placed(); len(placed) != 3 {
		t.Fatalf("placed %d calls, want all 3 despite the stuck one", len(placed))
	}
}

func TestSchedulerMarksPlacementFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := calllog.NewInMemoryStore()
	tracker := lifecycle.NewTracker(store, time.Hour)
	provider := telephony.NewMockProvider()
	provider.Err = errors.New("carrier rejected")

	s := NewScheduler(store, provider, tracker, nil, NewLocalGuard(), newTestMetrics(), fastConfig())
	go s.Run(ctx)

	rec := seedRecord(t, store, "+15550000001")
	s.Enqueue(rec.ID, flow.CallFlow{ToPhone: rec.ToPhone})

	waitFor(t, "placement failure to be recorded", func() bool {
		got, err := store.Get(ctx, rec.ID)
		return err == nil && got.Status == calllog.StatusError
	})

	got, _ := store.Get(ctx, rec.ID)
	if !strings.Contains(got.Reason, "placement") {
		t.Fatalf("reason = %q, want placement failure mentioned", got.Reason)
	}
	if s.Depth() != 0 {
		t.Fatalf("depth = %d after failure, want 0", s.Depth())
	}
}

func TestLocalGuardSingleHolder(t *testing.T) {
	g := NewLocalGuard()
	ctx := context.Background()

	ok, err := g.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v), want held", ok, err)
	}
	ok, err = g.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("second acquire = (%v, %v), want denied", ok, err)
	}
	if err := g.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = g.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release = (%v, %v), want held", ok, err)
	}
}

func TestSchedulersSharingGuardNeverOverlap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := calllog.NewInMemoryStore()
	guard := NewLocalGuard()
	provider := telephony.NewMockProvider()

	s1 := NewScheduler(store, provider, lifecycle.NewTracker(store, time.Hour), nil, guard, newTestMetrics(), fastConfig())
	s2 := NewScheduler(store, provider, lifecycle.NewTracker(store, time.Hour), nil, guard, newTestMetrics(), fastConfig())
	go s1.Run(ctx)
	go s2.Run(ctx)

	held := seedRecord(t, store, "+15550000001")
	waiting := seedRecord(t, store, "+15550000002")

	// s1's call never completes, so s1 holds the guard until its timeout.
	s1.Enqueue(held.ID, flow.CallFlow{ToPhone: held.ToPhone})
	waitFor(t, "first call to be placed", func() bool {
		return len(provider.Placed()) == 1
	})

	s2.Enqueue(waiting.ID, flow.CallFlow{ToPhone: waiting.ToPhone})
	time.Sleep(20 * time.Millisecond)
	if got := len(provider.Placed()); got != 1 {
		t.Fatalf("second scheduler placed a call while the guard was held (placed=%d)", got)
	}

	// After s1's timeout fails the held call, s2 must get its turn.
	waitFor(t, "second call to be placed after the guard frees", func() bool {
		return len(provider.Placed()) == 2
	})
	if placed := provider.Placed(); placed[1] != waiting.ToPhone {
		t.Fatalf("second placement = %q, want %q", placed[1], waiting.ToPhone)
	}
}
