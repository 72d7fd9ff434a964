package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"solana-copytrader/internal/solutil"
)

// PositionStatus enumerates the position state machine's persisted values.
type PositionStatus string

const (
	PositionSent      PositionStatus = "SENT"
	PositionConfirmed PositionStatus = "CONFIRMED"
)

// Position is the durable record of our holdings in a single token mint.
// PendingRawBalance is the unconfirmed quantity added by the most recent
// SENT buy — distinct from RawBalance so a stale reap rolls back only
// that top-up, never a previously CONFIRMED holding it landed on top of.
type Position struct {
	TokenMint         string
	RawBalance        *big.Int
	PendingRawBalance *big.Int
	Decimals          int
	Status            PositionStatus
	UpdatedAt         int64
}

// GetPosition returns the position for tokenMint, or nil if none exists.
func (d *DB) GetPosition(ctx context.Context, tokenMint string) (*Position, error) {
	var raw, pending string
	p := &Position{TokenMint: tokenMint}
	err := d.db.QueryRowContext(ctx,
		`SELECT raw_balance, pending_raw_balance, decimals, status, updated_at FROM positions WHERE token_mint = ?`,
		tokenMint,
	).Scan(&raw, &pending, &p.Decimals, &p.Status, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	p.RawBalance, err = solutil.StringToBigInt(raw)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	p.PendingRawBalance, err = solutil.StringToBigInt(pending)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// UpsertPosition writes p in full, overwriting any previous row.
func (d *DB) UpsertPosition(ctx context.Context, p *Position) error {
	pending := p.PendingRawBalance
	if pending == nil {
		pending = big.NewInt(0)
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO positions (token_mint, raw_balance, pending_raw_balance, decimals, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_mint) DO UPDATE SET
			raw_balance         = excluded.raw_balance,
			pending_raw_balance = excluded.pending_raw_balance,
			decimals            = excluded.decimals,
			status              = excluded.status,
			updated_at          = excluded.updated_at
	`, p.TokenMint, solutil.BigIntToString(p.RawBalance), solutil.BigIntToString(pending), p.Decimals, p.Status, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

// DeletePosition removes the position row for tokenMint (called once a
// position's balance reaches zero).
func (d *DB) DeletePosition(ctx context.Context, tokenMint string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM positions WHERE token_mint = ?`, tokenMint)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

// ListPositions returns every currently tracked position.
func (d *DB) ListPositions(ctx context.Context) ([]*Position, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT token_mint, raw_balance, pending_raw_balance, decimals, status, updated_at FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		var raw, pending string
		p := &Position{}
		if err := rows.Scan(&p.TokenMint, &raw, &pending, &p.Decimals, &p.Status, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.RawBalance, err = solutil.StringToBigInt(raw)
		if err != nil {
			return nil, fmt.Errorf("list positions: %w", err)
		}
		p.PendingRawBalance, err = solutil.StringToBigInt(pending)
		if err != nil {
			return nil, fmt.Errorf("list positions: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListStalePositions returns positions stuck in SENT status since before
// the given cutoff timestamp, for the reconciler's reaper task.
func (d *DB) ListStalePositions(ctx context.Context, cutoff int64) ([]*Position, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT token_mint, raw_balance, pending_raw_balance, decimals, status, updated_at FROM positions
		 WHERE status = ? AND updated_at < ?`, PositionSent, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale positions: %w", err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		var raw, pending string
		p := &Position{}
		if err := rows.Scan(&p.TokenMint, &raw, &pending, &p.Decimals, &p.Status, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stale position: %w", err)
		}
		p.RawBalance, err = solutil.StringToBigInt(raw)
		if err != nil {
			return nil, fmt.Errorf("list stale positions: %w", err)
		}
		p.PendingRawBalance, err = solutil.StringToBigInt(pending)
		if err != nil {
			return nil, fmt.Errorf("list stale positions: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountOpenPositions returns the number of positions currently tracked,
// used by the risk engine's open-positions cap.
func (d *DB) CountOpenPositions(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open positions: %w", err)
	}
	return n, nil
}
