package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aathul-raj/hermes/internal/calllog"
	"github.com/aathul-raj/hermes/internal/flow"
)

var (
	ErrNotFound  = errors.New("call not registered")
	ErrDuplicate = errors.New("call already registered")
)

type entry struct {
	flow         flow.CallFlow
	registeredAt time.Time
}

// Tracker bridges the stateless request that places a call to the
// stateful session that later materializes on the media-stream
// connection. Flows are inserted at call placement, looked up when the
// stream starts, and removed at call termination so the table does not
// grow without bound.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]entry
	store   calllog.Store
	maxAge  time.Duration
}

func NewTracker(store calllog.Store, maxAge time.Duration) *Tracker {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Tracker{
		entries: make(map[string]entry),
		store:   store,
		maxAge:  maxAge,
	}
}

// Register stores the flow keyed by the platform-assigned call
// identifier. Registering the same identifier twice is a programming
// error and fails without mutating the existing entry.
func (t *Tracker) Register(callSID string, f flow.CallFlow) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[callSID]; ok {
		return ErrDuplicate
	}
	t.entries[callSID] = entry{flow: f, registeredAt: time.Now().UTC()}
	return nil
}

// Lookup returns the flow for a call identifier. The second return is
// false when placement and stream start raced and the flow is not yet
// (or no longer) registered; callers degrade rather than fail.
func (t *Tracker) Lookup(callSID string) (flow.CallFlow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[callSID]
	return e.flow, ok
}

func (t *Tracker) Remove(callSID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, callSID)
}

func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// RecordTranscript upserts the transcript-so-far on the persisted record.
func (t *Tracker) RecordTranscript(ctx context.Context, recordID, transcript string) error {
	if recordID == "" {
		return nil
	}
	return t.store.UpsertTranscript(ctx, recordID, transcript)
}

// RecordStatus mirrors a status transition to the persisted record.
func (t *Tracker) RecordStatus(ctx context.Context, recordID string, status calllog.Status, reason string) error {
	if recordID == "" {
		return nil
	}
	return t.store.UpdateStatus(ctx, recordID, status, reason)
}

// StartJanitor drops registrations whose call never produced a media
// stream, so abandoned placements do not leak table entries.
func (t *Tracker) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.expireStale()
			}
		}
	}()
}

func (t *Tracker) expireStale() {
	cutoff := time.Now().UTC().Add(-t.maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	for sid, e := range t.entries {
		if e.registeredAt.Before(cutoff) {
			delete(t.entries, sid)
		}
	}
}
