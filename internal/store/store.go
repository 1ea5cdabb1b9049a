// Package store is the executor's local embedded persistence: every started
// StrategyConfig and every trade lifecycle event it produces, so a restart
// can reconstruct running state instead of starting blind.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS strategies (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL,
    symbol       TEXT NOT NULL,
    timeframe    TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_logs (
    id           TEXT PRIMARY KEY,
    strategy_id  TEXT NOT NULL,
    event_kind   TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    time         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS seen_commands (
    id      TEXT PRIMARY KEY,
    seen_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trade_logs_strategy ON trade_logs(strategy_id);
CREATE INDEX IF NOT EXISTS idx_trade_logs_time      ON trade_logs(time DESC);
CREATE INDEX IF NOT EXISTS idx_seen_commands_at      ON seen_commands(seen_at);
`

// commandRetention bounds how long a seen command id is remembered across
// restarts — wider than PlatformLink's in-memory idempotency window since a
// restart should never replay a command the window would otherwise still
// treat as a duplicate.
const commandRetention = 24 * time.Hour

// tradeLogRetention mirrors RiskGate's DailyCounters retention (spec.md
// line 67): trade history older than this is no longer decision-relevant.
const tradeLogRetention = 7 * 24 * time.Hour

// Store is the sqlite-backed persistence layer. It satisfies
// executorcore.Store (SaveStrategy/DeleteStrategy/ListStrategies) plus the
// trade-log and command-idempotency surfaces internal/api and
// internal/platformlink use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, applies the schema, and
// prunes anything past its retention window.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.Open: apply schema: %w", err)
	}

	s := &Store{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) pruneOld(ctx context.Context) {
	now := time.Now().UTC()
	s.db.ExecContext(ctx, `DELETE FROM trade_logs WHERE time < ?`, now.Add(-tradeLogRetention))
	s.db.ExecContext(ctx, `DELETE FROM seen_commands WHERE seen_at < ?`, now.Add(-commandRetention))
}
