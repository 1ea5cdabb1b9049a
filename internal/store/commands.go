package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SeenCommand reports whether a command id has already been recorded, so
// PlatformLink's in-memory idempotency window (10 minutes) can be backed by
// a window that survives a process restart.
func (s *Store) SeenCommand(ctx context.Context, id string) (bool, error) {
	var discard string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM seen_commands WHERE id = ?`, id).Scan(&discard)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store.SeenCommand: query %s: %w", id, err)
	}
	return true, nil
}

// RecordCommand marks a command id as seen at the given time.
func (s *Store) RecordCommand(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO seen_commands (id, seen_at) VALUES (?, ?)`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("store.RecordCommand: insert %s: %w", id, err)
	}
	return nil
}
