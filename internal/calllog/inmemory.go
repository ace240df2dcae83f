package calllog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process record store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*CallRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*CallRecord)}
}

func (s *InMemoryStore) Create(_ context.Context, rec CallRecord) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusQueued
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	stored := rec
	s.records[rec.ID] = &stored
	return rec, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return *rec, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, id string, status Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(rec.Status, status) {
		return ErrStatusRegression
	}
	now := time.Now().UTC()
	// A fast call can reach a terminal status before the in-progress
	// write lands; the terminal write backfills started_at so ended_at
	// never exists without it.
	if (status == StatusInProgress || status == StatusCompleted || status == StatusError) && rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	if (status == StatusCompleted || status == StatusError) && rec.EndedAt == nil {
		rec.EndedAt = &now
	}
	rec.Status = status
	if reason != "" {
		rec.Reason = reason
	}
	return nil
}

func (s *InMemoryStore) UpsertTranscript(_ context.Context, id, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Transcript = transcript
	return nil
}

func (s *InMemoryStore) SetAnalysis(_ context.Context, id, sentiment, summary string, flagged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Sentiment = sentiment
	rec.Summary = summary
	rec.Flagged = flagged
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
