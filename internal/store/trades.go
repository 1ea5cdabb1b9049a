package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

// LogTrade persists a TradeEvent, one row per lifecycle step (ENTRY, PARTIAL,
// EXIT, MODIFY, ERROR). Duplicate TradeEvent.ID (a retried outbound report
// that already landed) is a silent no-op via INSERT OR IGNORE.
func (s *Store) LogTrade(ctx context.Context, event types.TradeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("store.LogTrade: marshal %s: %w", event.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trade_logs (id, strategy_id, event_kind, payload_json, time)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, event.StrategyID, string(event.EventKind), payload, event.Time.UTC())
	if err != nil {
		return fmt.Errorf("store.LogTrade: insert %s: %w", event.ID, err)
	}
	return nil
}

// OpenTrades returns every ENTRY event without a matching EXIT for the same
// ticket — an approximation of "currently open" from the trade log alone,
// used by the /api/trades/open endpoint when no live broker round-trip is
// wanted.
func (s *Store) OpenTrades(ctx context.Context) ([]types.TradeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.payload_json FROM trade_logs t
		WHERE t.event_kind = 'ENTRY'
		AND NOT EXISTS (
			SELECT 1 FROM trade_logs e
			WHERE e.event_kind = 'EXIT'
			AND json_extract(e.payload_json, '$.ticket') = json_extract(t.payload_json, '$.ticket')
		)
		ORDER BY t.time DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store.OpenTrades: query: %w", err)
	}
	defer rows.Close()
	return scanTradeEvents(rows)
}

// TradeHistory returns events for a strategy (or every strategy, if
// strategyID is empty) ordered newest-first, bounded by limit.
func (s *Store) TradeHistory(ctx context.Context, strategyID string, limit int) ([]types.TradeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if strategyID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT payload_json FROM trade_logs ORDER BY time DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT payload_json FROM trade_logs WHERE strategy_id = ? ORDER BY time DESC LIMIT ?`, strategyID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store.TradeHistory: query: %w", err)
	}
	defer rows.Close()
	return scanTradeEvents(rows)
}

func scanTradeEvents(rows *sql.Rows) ([]types.TradeEvent, error) {
	var out []types.TradeEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan trade_logs row: %w", err)
		}
		var event types.TradeEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("store: unmarshal trade_logs row: %w", err)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
