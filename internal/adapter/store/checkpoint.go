package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salesagent/internal/domain"
)

// Load returns the stored thread, or a fresh empty one on first use. A fresh
// thread is not persisted until its first Save.
func (s *SQLiteStore) Load(ctx context.Context, threadID, customerID string) (*domain.Thread, error) {
	t, err := s.Get(ctx, threadID)
	if errors.Is(err, domain.ErrThreadNotFound) {
		return domain.NewThread(threadID, customerID), nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns the stored thread or domain.ErrThreadNotFound.
func (s *SQLiteStore) Get(ctx context.Context, threadID string) (*domain.Thread, error) {
	var record string
	err := s.db.QueryRowContext(ctx,
		"SELECT record FROM threads WHERE id = ?", threadID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("Store.Get", domain.ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	var t domain.Thread
	if err := json.Unmarshal([]byte(record), &t); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return &t, nil
}

// Save atomically replaces the thread's persisted record. The row is written
// in one statement so a subsequent Load always sees either the previous or
// the new record, never a mix.
func (s *SQLiteStore) Save(ctx context.Context, t *domain.Thread) error {
	t.UpdatedAt = time.Now()
	record, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", t.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, customer_id, record, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			record      = excluded.record,
			updated_at  = excluded.updated_at`,
		t.ID, t.CustomerID, string(record), t.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save thread %s: %w", t.ID, err)
	}
	return nil
}

// ReapStale deletes threads not updated within maxAge and returns how many
// were removed. Suspended threads are reaped too; their pending approvals
// die with them.
func (s *SQLiteStore) ReapStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM threads WHERE updated_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap stale threads: %w", err)
	}
	return res.RowsAffected()
}
