package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists lifecycle records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_logs (
			id TEXT PRIMARY KEY,
			to_phone TEXT NOT NULL,
			topic TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'queued',
			reason TEXT NOT NULL DEFAULT '',
			transcript TEXT NOT NULL DEFAULT '',
			sentiment TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			flagged BOOLEAN NOT NULL DEFAULT FALSE,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_logs_status_created ON call_logs (status, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusQueued
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_logs (id, to_phone, topic, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.ToPhone, rec.Topic, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return CallRecord{}, fmt.Errorf("create call record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (CallRecord, error) {
	var rec CallRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, to_phone, topic, status, reason, transcript, sentiment, summary, flagged, started_at, ended_at, created_at
		 FROM call_logs WHERE id=$1`,
		id,
	).Scan(&rec.ID, &rec.ToPhone, &rec.Topic, &rec.Status, &rec.Reason, &rec.Transcript,
		&rec.Sentiment, &rec.Summary, &rec.Flagged, &rec.StartedAt, &rec.EndedAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("get call record: %w", err)
	}
	return rec, nil
}

// UpdateStatus serializes same-key writes through a row lock so the
// monotonic transition check cannot race a concurrent writer.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	err = tx.QueryRow(ctx, `SELECT status FROM call_logs WHERE id=$1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock call record: %w", err)
	}
	if !CanTransition(current, status) {
		return ErrStatusRegression
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE call_logs SET
			status=$2,
			reason=CASE WHEN $3 <> '' THEN $3 ELSE reason END,
			started_at=CASE WHEN $2 IN ('in-progress','completed','error') AND started_at IS NULL THEN $4 ELSE started_at END,
			ended_at=CASE WHEN $2 IN ('completed','error') AND ended_at IS NULL THEN $4 ELSE ended_at END
		 WHERE id=$1`,
		id, status, reason, now,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpsertTranscript(ctx context.Context, id, transcript string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_logs SET transcript=$2 WHERE id=$1`,
		id, transcript,
	)
	if err != nil {
		return fmt.Errorf("upsert transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetAnalysis(ctx context.Context, id, sentiment, summary string, flagged bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_logs SET sentiment=$2, summary=$3, flagged=$4 WHERE id=$1`,
		id, sentiment, summary, flagged,
	)
	if err != nil {
		return fmt.Errorf("set analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
