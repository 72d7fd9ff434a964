// Package position implements the position state machine of spec.md
// §4.8: CONFIRMED/SENT status transitions over the durable positions
// table, plus the stale-SENT reaper invoked by the scheduler.
package position

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/store"
)

// Manager mutates position rows under the transitions spec.md §4.8
// defines, generalizing the teacher's PositionTracker (an in-memory
// map with a DB mirror) into a store-backed state machine, since the
// copy-trader's lower write rate (tens/s) needs no in-memory cache.
type Manager struct {
	store *store.DB
}

// New creates a position manager over db.
func New(db *store.DB) *Manager {
	return &Manager{store: db}
}

// Get returns the current position for mint, or nil if none exists.
func (m *Manager) Get(ctx context.Context, mint string) (*store.Position, error) {
	return m.store.GetPosition(ctx, mint)
}

// HasTokenAccount implements risk.PositionLookup: whether an ATA already
// exists for mint, used by the adaptive fee guard's new-token detection.
func (m *Manager) HasTokenAccount(ctx context.Context, mint string) (bool, error) {
	pos, err := m.store.GetPosition(ctx, mint)
	if err != nil {
		return false, err
	}
	return pos != nil, nil
}

// CreateBuy records a successful BUY: SENT with the quoted amount in live
// mode (reserved, not yet final — tracked separately as PendingRawBalance
// so a later rollback only undoes this top-up, not any prior CONFIRMED
// holding), CONFIRMED immediately in simulation (nothing pending).
func (m *Manager) CreateBuy(ctx context.Context, mint string, rawAmountOut *big.Int, decimals int, live bool) error {
	existing, err := m.store.GetPosition(ctx, mint)
	if err != nil {
		return err
	}

	newTotal := new(big.Int).Set(rawAmountOut)
	if existing != nil {
		newTotal = new(big.Int).Add(existing.RawBalance, rawAmountOut)
	}

	status := store.PositionConfirmed
	pending := big.NewInt(0)
	if live {
		status = store.PositionSent
		pending = new(big.Int).Set(rawAmountOut)
	}

	return m.store.UpsertPosition(ctx, &store.Position{
		TokenMint:         mint,
		RawBalance:        newTotal,
		PendingRawBalance: pending,
		Decimals:          decimals,
		Status:            status,
		UpdatedAt:         time.Now().Unix(),
	})
}

// Confirm transitions a SENT position to CONFIRMED on chain confirmation,
// clearing the now-settled pending quantity.
func (m *Manager) Confirm(ctx context.Context, mint string) error {
	pos, err := m.store.GetPosition(ctx, mint)
	if err != nil {
		return err
	}
	if pos == nil {
		return nil
	}
	pos.Status = store.PositionConfirmed
	pos.PendingRawBalance = big.NewInt(0)
	pos.UpdatedAt = time.Now().Unix()
	return m.store.UpsertPosition(ctx, pos)
}

// Fail rolls back a SENT buy that never confirmed, subtracting only the
// pending quantity that buy added; the row is deleted if the result is
// non-positive, otherwise left CONFIRMED with the reduced amount (an
// earlier CONFIRMED holding survives the rollback of a later failed
// top-up).
func (m *Manager) Fail(ctx context.Context, mint string, pendingRawAmount *big.Int) error {
	pos, err := m.store.GetPosition(ctx, mint)
	if err != nil {
		return err
	}
	if pos == nil {
		return nil
	}

	remaining := new(big.Int).Sub(pos.RawBalance, pendingRawAmount)
	if remaining.Sign() <= 0 {
		return m.store.DeletePosition(ctx, mint)
	}
	pos.RawBalance = remaining
	pos.PendingRawBalance = big.NewInt(0)
	pos.Status = store.PositionConfirmed
	pos.UpdatedAt = time.Now().Unix()
	return m.store.UpsertPosition(ctx, pos)
}

// Sell reduces a CONFIRMED position's balance by rawAmountSold, deleting
// the row once the balance reaches zero.
func (m *Manager) Sell(ctx context.Context, mint string, rawAmountSold *big.Int) error {
	pos, err := m.store.GetPosition(ctx, mint)
	if err != nil {
		return err
	}
	if pos == nil {
		return fmt.Errorf("position: sell on missing position for %s", mint)
	}

	remaining := new(big.Int).Sub(pos.RawBalance, rawAmountSold)
	if remaining.Sign() <= 0 {
		return m.store.DeletePosition(ctx, mint)
	}
	pos.RawBalance = remaining
	pos.UpdatedAt = time.Now().Unix()
	return m.store.UpsertPosition(ctx, pos)
}

// ReapStale scans for SENT positions older than timeout and fails each,
// rolling back only the unconfirmed PendingRawBalance each carries (not
// the full RawBalance, which may also hold an earlier CONFIRMED fill),
// invoked by the scheduler every 2 minutes per spec.md §4.8.
func (m *Manager) ReapStale(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout).Unix()
	stale, err := m.store.ListStalePositions(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, pos := range stale {
		if err := m.Fail(ctx, pos.TokenMint, pos.PendingRawBalance); err != nil {
			log.Error().Err(err).Str("mint", pos.TokenMint).Msg("position: failed to reap stale SENT position")
			continue
		}
		log.Warn().Str("mint", pos.TokenMint).Msg("position: reaped stale SENT position")
	}
	return len(stale), nil
}
