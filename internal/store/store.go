// Package store provides durable keyed storage for the copy-trading
// pipeline: the idempotency ledger, positions, budgets, cooldowns, pipeline
// metrics, and the simulation-mode virtual ledger.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection used by every pipeline component.
type DB struct {
	db *sql.DB
}

// Open creates (or reopens) the SQLite-backed store at path and runs
// migrations in a single transaction.
func Open(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", path).Msg("store initialized")
	return d, nil
}

// migrate runs the full schema as one idempotent transaction, recording the
// applied version so repeat startups are no-ops.
func (d *DB) migrate() error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const schema = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS processed_events (
		signature   TEXT PRIMARY KEY,
		admitted_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_processed_events_admitted ON processed_events(admitted_at);

	CREATE TABLE IF NOT EXISTS positions (
		token_mint          TEXT PRIMARY KEY,
		raw_balance         TEXT NOT NULL,
		pending_raw_balance TEXT NOT NULL DEFAULT '0',
		decimals            INTEGER NOT NULL,
		status              TEXT NOT NULL,
		updated_at          INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS budgets (
		day_key        TEXT PRIMARY KEY,
		spent_lamports INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS cooldowns (
		token_mint   TEXT PRIMARY KEY,
		last_trade_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS virtual_wallet (
		id               INTEGER PRIMARY KEY CHECK (id = 1),
		starting_balance INTEGER NOT NULL,
		current_cash     INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS virtual_portfolio (
		token_mint       TEXT PRIMARY KEY,
		spent_lamports   INTEGER NOT NULL DEFAULT 0,
		received_lamports INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS virtual_trades (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		signature       TEXT NOT NULL,
		direction       TEXT NOT NULL,
		token_mint      TEXT NOT NULL,
		sol_amount      REAL NOT NULL,
		token_raw_amount TEXT NOT NULL,
		timestamp       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_virtual_trades_timestamp ON virtual_trades(timestamp);

	CREATE TABLE IF NOT EXISTS source_trades (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		signature  TEXT NOT NULL,
		source     TEXT NOT NULL,
		direction  TEXT NOT NULL,
		token_mint TEXT NOT NULL,
		timestamp  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_source_trades_timestamp ON source_trades(timestamp);

	CREATE TABLE IF NOT EXISTS pnl_snapshots (
		id                     INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at               INTEGER NOT NULL,
		open_positions         INTEGER NOT NULL,
		realized_pnl_lamports  INTEGER NOT NULL,
		unrealized_pnl_lamports INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS execution_comparisons (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		signature      TEXT NOT NULL,
		quoted_out     TEXT NOT NULL,
		real_out       TEXT NOT NULL,
		fee_lamports   INTEGER NOT NULL,
		compute_units  INTEGER NOT NULL,
		slippage_pct   REAL NOT NULL,
		timestamp      INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_pipeline_metrics (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		signature        TEXT NOT NULL,
		direction        TEXT NOT NULL,
		token_mint       TEXT NOT NULL,
		source           TEXT NOT NULL,
		outcome          TEXT NOT NULL,
		reject_reason    TEXT NOT NULL DEFAULT '',
		sell_buffer_ms   INTEGER NOT NULL DEFAULT 0,
		risk_latency_ms  INTEGER NOT NULL DEFAULT 0,
		exec_latency_ms  INTEGER NOT NULL DEFAULT 0,
		total_latency_ms INTEGER NOT NULL DEFAULT 0,
		price_drift_pct  REAL NOT NULL DEFAULT 0,
		unsafe_parse     INTEGER NOT NULL DEFAULT 0,
		correlation_id   TEXT NOT NULL DEFAULT '',
		timestamp        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pipeline_metrics_timestamp ON trade_pipeline_metrics(timestamp);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR IGNORE INTO schema_migrations (version) VALUES (1)`); err != nil {
		return err
	}

	return tx.Commit()
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Now returns the current Unix timestamp (helper matching store's
// second-resolution timestamp columns).
func Now() int64 {
	return time.Now().Unix()
}
