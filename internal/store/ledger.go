package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InsertEventIfNew atomically admits a signature into the idempotency
// ledger. It returns true if this call was the first to admit it, false if
// it was already present — callers use the return value to decide whether
// to proceed with processing.
func (d *DB) InsertEventIfNew(ctx context.Context, signature string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_events (signature, admitted_at) VALUES (?, ?)`,
		signature, Now(),
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// PruneEventsOlderThan deletes idempotency-ledger rows admitted before now-age
// and returns the number of rows removed.
func (d *DB) PruneEventsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Unix()
	res, err := d.db.ExecContext(ctx, `DELETE FROM processed_events WHERE admitted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

// GetDailySpent returns the lamports already committed to confirmed buys for
// dayKey (a "2006-01-02" UTC bucket), or 0 if nothing has been spent yet.
func (d *DB) GetDailySpent(ctx context.Context, dayKey string) (uint64, error) {
	var spent uint64
	err := d.db.QueryRowContext(ctx,
		`SELECT spent_lamports FROM budgets WHERE day_key = ?`, dayKey,
	).Scan(&spent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get daily spent: %w", err)
	}
	return spent, nil
}

// AddDailySpent increments the spend counter for dayKey by lamports,
// creating the row if absent. Call this only on confirmed BUYs.
func (d *DB) AddDailySpent(ctx context.Context, dayKey string, lamports uint64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO budgets (day_key, spent_lamports) VALUES (?, ?)
		ON CONFLICT(day_key) DO UPDATE SET spent_lamports = spent_lamports + excluded.spent_lamports
	`, dayKey, lamports)
	if err != nil {
		return fmt.Errorf("add daily spent: %w", err)
	}
	return nil
}

// GetCooldown returns the Unix timestamp of the last trade for tokenMint, or
// zero if there is none recorded.
func (d *DB) GetCooldown(ctx context.Context, tokenMint string) (int64, error) {
	var ts int64
	err := d.db.QueryRowContext(ctx,
		`SELECT last_trade_at FROM cooldowns WHERE token_mint = ?`, tokenMint,
	).Scan(&ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get cooldown: %w", err)
	}
	return ts, nil
}

// SetCooldown records the current time as the last trade time for tokenMint.
func (d *DB) SetCooldown(ctx context.Context, tokenMint string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO cooldowns (token_mint, last_trade_at) VALUES (?, ?)
		ON CONFLICT(token_mint) DO UPDATE SET last_trade_at = excluded.last_trade_at
	`, tokenMint, Now())
	if err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	return nil
}
