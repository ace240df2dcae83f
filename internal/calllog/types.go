package calllog

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusCalling    Status = "calling"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var (
	ErrNotFound         = errors.New("call record not found")
	ErrStatusRegression = errors.New("status transition would regress")
)

var statusRank = map[Status]int{
	StatusQueued:     0,
	StatusCalling:    1,
	StatusInProgress: 2,
	StatusCompleted:  3,
	StatusError:      3,
}

// CanTransition reports whether a record may move from one status to
// another. Transitions are monotonic and one-directional, except that the
// terminal error state is reachable from any non-terminal state. Writing
// the current status again is allowed so upserts stay idempotent.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from == StatusCompleted || from == StatusError {
		return false
	}
	if to == StatusError {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// CallRecord is the externally persisted representation of a call's
// status and outcome, independent of the in-memory session.
type CallRecord struct {
	ID         string     `json:"id"`
	ToPhone    string     `json:"to_phone"`
	Topic      string     `json:"topic"`
	Status     Status     `json:"status"`
	Reason     string     `json:"reason,omitempty"`
	Transcript string     `json:"transcript"`
	Sentiment  string     `json:"sentiment,omitempty"`
	Summary    string     `json:"summary,omitempty"`
	Flagged    bool       `json:"flagged"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Store persists lifecycle records. UpdateStatus and UpsertTranscript are
// idempotent; UpdateStatus rejects regressions with ErrStatusRegression.
type Store interface {
	Create(ctx context.Context, rec CallRecord) (CallRecord, error)
	Get(ctx context.Context, id string) (CallRecord, error)
	UpdateStatus(ctx context.Context, id string, status Status, reason string) error
	UpsertTranscript(ctx context.Context, id, transcript string) error
	SetAnalysis(ctx context.Context, id, sentiment, summary string, flagged bool) error
	Close() error
}
