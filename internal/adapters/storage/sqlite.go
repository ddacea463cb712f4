package storage

// sqlite.go: schema and store lifecycle.
//
// Layout:
//   - cohorts/agents/models: competition registry.
//   - markets: local mirror of the external feed (one row per market, UPSERT).
//   - positions/decisions/trades: per-agent accounting and audit trail.
//   - snapshots/brier_scores: append-only derived rows.
//
// All money mutations (trade execution, settlement) are single transactions;
// a position update is never visible without its balance update and trade row.

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS models (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    provider   TEXT NOT NULL DEFAULT '',
    active     INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cohorts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    number          INTEGER NOT NULL UNIQUE,
    started_at      DATETIME NOT NULL,
    status          TEXT NOT NULL DEFAULT 'active',
    completed_at    DATETIME,
    methodology     TEXT NOT NULL DEFAULT '',
    initial_balance REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    cohort_id  INTEGER NOT NULL REFERENCES cohorts(id),
    model_id   TEXT NOT NULL REFERENCES models(id),
    cash       REAL NOT NULL,
    status     TEXT NOT NULL DEFAULT 'active',
    created_at DATETIME NOT NULL,
    UNIQUE(cohort_id, model_id)
);

CREATE TABLE IF NOT EXISTS markets (
    id             TEXT PRIMARY KEY,
    question       TEXT NOT NULL DEFAULT '',
    slug           TEXT NOT NULL DEFAULT '',
    type           TEXT NOT NULL DEFAULT 'binary',
    status         TEXT NOT NULL DEFAULT 'active',
    price          REAL,
    outcome_prices TEXT,
    resolution     TEXT NOT NULL DEFAULT '',
    end_date       DATETIME,
    volume_24h     REAL NOT NULL DEFAULT 0,
    synced_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id        INTEGER NOT NULL REFERENCES agents(id),
    market_id       TEXT NOT NULL,
    side            TEXT NOT NULL,
    shares          REAL NOT NULL,
    avg_entry_price REAL NOT NULL,
    total_cost      REAL NOT NULL,
    current_value   REAL,
    unrealized_pnl  REAL,
    status          TEXT NOT NULL DEFAULT 'open',
    opened_at       DATETIME NOT NULL,
    closed_at       DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open
    ON positions(agent_id, market_id, side) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_positions_agent  ON positions(agent_id, status);
CREATE INDEX IF NOT EXISTS idx_positions_market ON positions(market_id, status);

CREATE TABLE IF NOT EXISTS decisions (
    id                TEXT PRIMARY KEY,
    agent_id          INTEGER NOT NULL REFERENCES agents(id),
    action            TEXT NOT NULL,
    market_id         TEXT NOT NULL DEFAULT '',
    side              TEXT NOT NULL DEFAULT '',
    amount            REAL NOT NULL DEFAULT 0,
    confidence        REAL,
    reasoning         TEXT NOT NULL DEFAULT '',
    request_context   TEXT NOT NULL DEFAULT '',
    raw_response      TEXT NOT NULL DEFAULT '',
    retry_count       INTEGER NOT NULL DEFAULT 0,
    latency_ms        INTEGER NOT NULL DEFAULT 0,
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    error_detail      TEXT NOT NULL DEFAULT '',
    reject_reason     TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_agent ON decisions(agent_id, created_at DESC);

CREATE TABLE IF NOT EXISTS trades (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id           INTEGER NOT NULL REFERENCES agents(id),
    position_id        INTEGER NOT NULL REFERENCES positions(id),
    decision_id        TEXT NOT NULL,
    market_id          TEXT NOT NULL,
    side               TEXT NOT NULL,
    type               TEXT NOT NULL,
    shares             REAL NOT NULL,
    price              REAL NOT NULL,
    amount             REAL NOT NULL,
    implied_confidence REAL,
    cost_basis_removed REAL,
    realized_pnl       REAL,
    created_at         DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_position ON trades(position_id);
CREATE INDEX IF NOT EXISTS idx_trades_agent    ON trades(agent_id, created_at DESC);

CREATE TABLE IF NOT EXISTS snapshots (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id          INTEGER NOT NULL REFERENCES agents(id),
    bucket            DATETIME NOT NULL,
    cash              REAL NOT NULL,
    positions_value   REAL NOT NULL,
    total_value       REAL NOT NULL,
    total_pnl         REAL NOT NULL,
    total_pnl_percent REAL NOT NULL,
    brier_mean        REAL,
    resolved_bets     INTEGER NOT NULL DEFAULT 0,
    created_at        DATETIME NOT NULL,
    UNIQUE(agent_id, bucket)
);

CREATE TABLE IF NOT EXISTS brier_scores (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id   INTEGER NOT NULL REFERENCES agents(id),
    trade_id   INTEGER NOT NULL UNIQUE,
    market_id  TEXT NOT NULL,
    forecast   REAL NOT NULL,
    outcome    INTEGER NOT NULL,
    score      REAL NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_brier_agent ON brier_scores(agent_id);
`

// SQLiteStorage implements ports.Storage using SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
