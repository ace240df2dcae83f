package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/aathul-raj/hermes/internal/analysis"
	"github.com/aathul-raj/hermes/internal/calllog"
	"github.com/aathul-raj/hermes/internal/flow"
	"github.com/aathul-raj/hermes/internal/lifecycle"
	"github.com/aathul-raj/hermes/internal/observability"
	"github.com/aathul-raj/hermes/internal/telephony"
)

type Config struct {
	// PollInterval is how often an in-flight entry's record is checked
	// for terminal status.
	PollInterval time.Duration

	// CallTimeout is the hard limit from the calling transition; past it
	// the entry is failed and the queue advances regardless of the
	// underlying call.
	CallTimeout time.Duration
}

// Entry is one outbound call waiting its turn.
type Entry struct {
	RecordID   string
	Flow       flow.CallFlow
	EnqueuedAt time.Time
}

// Scheduler drains queued calls strictly in order, one at a time. An
// entry moves calling -> in-progress -> completed|error; on completion
// the transcript is run through analysis before the next entry starts.
type Scheduler struct {
	store    calllog.Store
	provider telephony.Provider
	tracker  *lifecycle.Tracker
	analyzer analysis.Analyzer
	guard    Guard
	metrics  *observability.Metrics
	cfg      Config

	mu      sync.Mutex
	pending []Entry
	wake    chan struct{}
}

func NewScheduler(store calllog.Store, provider telephony.Provider, tracker *lifecycle.Tracker,
	analyzer analysis.Analyzer, guard Guard, metrics *observability.Metrics, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Minute
	}
	if guard == nil {
		guard = NewLocalGuard()
	}
	return &Scheduler{
		store:    store,
		provider: provider,
		tracker:  tracker,
		analyzer: analyzer,
		guard:    guard,
		metrics:  metrics,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue appends one call to the back of the queue.
func (s *Scheduler) Enqueue(recordID string, f flow.CallFlow) {
	s.mu.Lock()
	s.pending = append(s.pending, Entry{
		RecordID:   recordID,
		Flow:       f,
		EnqueuedAt: time.Now().UTC(),
	})
	depth := len(s.pending)
	s.mu.Unlock()

	s.metrics.QueueDepth.Set(float64(depth))
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Run drains the queue until the context ends. Exactly one Run loop per
// Scheduler; cross-process serialization is the guard's job.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		entry, ok := s.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		if !s.acquireGuard(ctx) {
			return
		}
		s.process(ctx, entry)
		s.releaseGuard()
		s.pop()
	}
}

func (s *Scheduler) peek() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Entry{}, false
	}
	return s.pending[0], true
}

func (s *Scheduler) pop() {
	s.mu.Lock()
	if len(s.pending) > 0 {
		s.pending = s.pending[1:]
	}
	depth := len(s.pending)
	s.mu.Unlock()
	s.metrics.QueueDepth.Set(float64(depth))
}

// acquireGuard retries until the guard is held or the context ends.
func (s *Scheduler) acquireGuard(ctx context.Context) bool {
	for {
		ok, err := s.guard.Acquire(ctx)
		if err != nil {
			log.Printf("[queue] guard acquire failed: %v", err)
		}
		if ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

func (s *Scheduler) releaseGuard() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.guard.Release(ctx); err != nil {
		log.Printf("[queue] guard release failed: %v", err)
	}
}

// process drives one entry from placement to a terminal record status.
func (s *Scheduler) process(ctx context.Context, e Entry) {
	if err := s.store.UpdateStatus(ctx, e.RecordID, calllog.StatusCalling, ""); err != nil {
		s.fail(e.RecordID, fmt.Sprintf("calling transition failed: %v", err))
		return
	}
	callingAt := time.Now()

	f := e.Flow
	f.RecordID = e.RecordID
	callSID, err := s.provider.PlaceCall(ctx, f.ToPhone)
	if err != nil {
		s.fail(e.RecordID, fmt.Sprintf("call placement failed: %v", err))
		return
	}

	if err := s.tracker.Register(callSID, f); err != nil {
		log.Printf("[queue] record=%s register call=%s: %v", e.RecordID, callSID, err)
	}
	// The placement confirmed an identifier; a very fast call may already
	// be terminal, which the monotonic store rejects harmlessly.
	if err := s.store.UpdateStatus(ctx, e.RecordID, calllog.StatusInProgress, ""); err != nil &&
		!errors.Is(err, calllog.ErrStatusRegression) {
		log.Printf("[queue] record=%s in-progress transition: %v", e.RecordID, err)
	}
	log.Printf("[queue] record=%s call=%s placed, polling every %s", e.RecordID, callSID, s.cfg.PollInterval)

	deadline := callingAt.Add(s.cfg.CallTimeout)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rec, err := s.store.Get(ctx, e.RecordID)
		if err != nil {
			s.fail(e.RecordID, fmt.Sprintf("status poll failed: %v", err))
			return
		}
		switch rec.Status {
		case calllog.StatusCompleted:
			s.analyze(ctx, rec)
			return
		case calllog.StatusError:
			return
		}

		if time.Now().After(deadline) {
			// Advance without waiting for the call itself to end; a
			// stuck call must not block the rest of the queue.
			s.fail(e.RecordID, fmt.Sprintf("call exceeded %s timeout", s.cfg.CallTimeout))
			s.tracker.Remove(callSID)
			log.Printf("[queue] record=%s call=%s timed out, advancing", e.RecordID, callSID)
			return
		}
	}
}

// fail writes the terminal error status. A record that already finished
// keeps its terminal state.
func (s *Scheduler) fail(recordID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.store.UpdateStatus(ctx, recordID, calllog.StatusError, reason)
	if err != nil && !errors.Is(err, calllog.ErrStatusRegression) {
		log.Printf("[queue] record=%s error status write failed: %v", recordID, err)
		s.metrics.PersistFailures.WithLabelValues("status").Inc()
	}
}

// analyze runs the post-call assessment and stores it. Best effort: the
// call already completed and its transcript is safe.
func (s *Scheduler) analyze(ctx context.Context, rec calllog.CallRecord) {
	if s.analyzer == nil {
		return
	}
	res, err := s.analyzer.Analyze(ctx, rec.Transcript)
	if err != nil {
		log.Printf("[queue] record=%s analysis failed: %v", rec.ID, err)
		return
	}
	if err := s.store.SetAnalysis(ctx, rec.ID, res.Sentiment, res.Summary, res.Flagged); err != nil {
		log.Printf("[queue] record=%s analysis write failed: %v", rec.ID, err)
		s.metrics.PersistFailures.WithLabelValues("analysis").Inc()
	}
}
