package store

import (
	"context"
	"database/sql"
	"fmt"
)

// VirtualWallet is the simulated-mode cash ledger, seeded once at startup.
type VirtualWallet struct {
	StartingBalance int64
	CurrentCash     int64
}

// InitVirtualWallet seeds the single virtual wallet row if it does not
// already exist; re-running with the same startingBalance is a no-op.
func (d *DB) InitVirtualWallet(ctx context.Context, startingBalance int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO virtual_wallet (id, starting_balance, current_cash)
		VALUES (1, ?, ?)
	`, startingBalance, startingBalance)
	if err != nil {
		return fmt.Errorf("init virtual wallet: %w", err)
	}
	return nil
}

// GetVirtualWallet returns the current simulated wallet state.
func (d *DB) GetVirtualWallet(ctx context.Context) (*VirtualWallet, error) {
	w := &VirtualWallet{}
	err := d.db.QueryRowContext(ctx,
		`SELECT starting_balance, current_cash FROM virtual_wallet WHERE id = 1`,
	).Scan(&w.StartingBalance, &w.CurrentCash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get virtual wallet: %w", err)
	}
	return w, nil
}

// AdjustVirtualCash applies a signed lamport delta to the simulated cash
// balance (negative for buys, positive for sells).
func (d *DB) AdjustVirtualCash(ctx context.Context, deltaLamports int64) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE virtual_wallet SET current_cash = current_cash + ? WHERE id = 1`, deltaLamports)
	if err != nil {
		return fmt.Errorf("adjust virtual cash: %w", err)
	}
	return nil
}

// RecordVirtualTrade appends one simulated fill to the virtual trade log.
func (d *DB) RecordVirtualTrade(ctx context.Context, signature, direction, tokenMint string, solAmount float64, tokenRawAmount string, timestamp int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO virtual_trades (signature, direction, token_mint, sol_amount, token_raw_amount, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, signature, direction, tokenMint, solAmount, tokenRawAmount, timestamp)
	if err != nil {
		return fmt.Errorf("record virtual trade: %w", err)
	}
	return nil
}

// VirtualPortfolioEntry tracks cumulative simulated spend/receipts for one
// token mint.
type VirtualPortfolioEntry struct {
	TokenMint        string
	SpentLamports    int64
	ReceivedLamports int64
}

// GetVirtualPortfolio returns the accumulated entry for tokenMint, or a
// zeroed entry if none exists yet.
func (d *DB) GetVirtualPortfolio(ctx context.Context, tokenMint string) (*VirtualPortfolioEntry, error) {
	e := &VirtualPortfolioEntry{TokenMint: tokenMint}
	err := d.db.QueryRowContext(ctx,
		`SELECT spent_lamports, received_lamports FROM virtual_portfolio WHERE token_mint = ?`,
		tokenMint,
	).Scan(&e.SpentLamports, &e.ReceivedLamports)
	if err != nil {
		if err == sql.ErrNoRows {
			return e, nil
		}
		return nil, fmt.Errorf("get virtual portfolio: %w", err)
	}
	return e, nil
}

// UpsertVirtualPortfolio adds the given deltas onto the existing entry for
// tokenMint, creating the row if needed.
func (d *DB) UpsertVirtualPortfolio(ctx context.Context, tokenMint string, spentDelta, receivedDelta int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO virtual_portfolio (token_mint, spent_lamports, received_lamports)
		VALUES (?, ?, ?)
		ON CONFLICT(token_mint) DO UPDATE SET
			spent_lamports = spent_lamports + excluded.spent_lamports,
			received_lamports = received_lamports + excluded.received_lamports
	`, tokenMint, spentDelta, receivedDelta)
	if err != nil {
		return fmt.Errorf("upsert virtual portfolio: %w", err)
	}
	return nil
}
