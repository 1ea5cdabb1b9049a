package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

// SaveStrategy upserts a StrategyConfig by id. Repeated START/UPDATE_SETTINGS
// commands for the same strategy id simply overwrite the row.
func (s *Store) SaveStrategy(ctx context.Context, cfg types.StrategyConfig) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store.SaveStrategy: marshal %s: %w", cfg.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategies (id, name, symbol, timeframe, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name         = excluded.name,
			symbol       = excluded.symbol,
			timeframe    = excluded.timeframe,
			payload_json = excluded.payload_json
	`, cfg.ID, cfg.Name, cfg.Symbol, string(cfg.Timeframe), payload, cfg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("store.SaveStrategy: upsert %s: %w", cfg.ID, err)
	}
	return nil
}

// DeleteStrategy is the narrow method executorcore.Store requires; it
// behaves exactly like DeleteStrategyPermanent but discards the cascade
// count. Present so Store alone satisfies the executorcore.Store interface.
func (s *Store) DeleteStrategy(ctx context.Context, id string) error {
	_, err := s.DeleteStrategyPermanent(ctx, id)
	return err
}

// DeleteStrategyPermanent removes a strategy row and cascades its
// trade_logs, per spec.md §6's "Deleting a strategy deletes its trade_logs
// first." Returns the number of trade_logs rows removed, for the
// `{strategyDeleted, tradeLogsDeleted, wasRunning}` API response shape.
func (s *Store) DeleteStrategyPermanent(ctx context.Context, id string) (tradeLogsDeleted int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store.DeleteStrategyPermanent: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM trade_logs WHERE strategy_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("store.DeleteStrategyPermanent: delete trade_logs: %w", err)
	}
	n, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM strategies WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("store.DeleteStrategyPermanent: delete strategy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store.DeleteStrategyPermanent: commit: %w", err)
	}
	return int(n), nil
}

// ListStrategies returns every persisted StrategyConfig, used by
// executorcore.Restore to reconstruct runtimes on process start.
func (s *Store) ListStrategies(ctx context.Context) ([]types.StrategyConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload_json FROM strategies`)
	if err != nil {
		return nil, fmt.Errorf("store.ListStrategies: query: %w", err)
	}
	defer rows.Close()

	var out []types.StrategyConfig
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store.ListStrategies: scan: %w", err)
		}
		var cfg types.StrategyConfig
		if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
			return nil, fmt.Errorf("store.ListStrategies: unmarshal: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// GetStrategy returns a single persisted config, or ErrNotFound.
func (s *Store) GetStrategy(ctx context.Context, id string) (types.StrategyConfig, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM strategies WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StrategyConfig{}, ErrNotFound
	}
	if err != nil {
		return types.StrategyConfig{}, fmt.Errorf("store.GetStrategy: query %s: %w", id, err)
	}
	var cfg types.StrategyConfig
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return types.StrategyConfig{}, fmt.Errorf("store.GetStrategy: unmarshal %s: %w", id, err)
	}
	return cfg, nil
}

// ErrNotFound is returned by lookups for an id with no matching row.
var ErrNotFound = errors.New("store: not found")
