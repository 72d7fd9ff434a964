package scheduler

import (
	"context"
	"time"

	"solana-copytrader/internal/position"
	"solana-copytrader/internal/store"
)

// Default intervals per spec.md §4.10.
const (
	PnLSnapshotInterval = 60 * time.Second
	StaleReapInterval   = 120 * time.Second
	CleanupInterval     = 6 * time.Hour

	staleSentTimeout = 5 * time.Minute
)

// DefaultTasks builds the three standing background tasks: PnL
// snapshotting, stale-SENT reaping, and ledger/metric pruning.
// pruneAge controls how far back InsertEventIfNew/AppendMetric rows are
// kept, taken from storage.ledger_prune_hours.
func DefaultTasks(db *store.DB, pos *position.Manager, pruneAge time.Duration) []Task {
	return []Task{
		{Name: "pnl_snapshot", Interval: PnLSnapshotInterval, Run: func(ctx context.Context) error {
			return snapshotPnL(ctx, db)
		}},
		{Name: "stale_sent_reap", Interval: StaleReapInterval, Run: func(ctx context.Context) error {
			_, err := pos.ReapStale(ctx, staleSentTimeout)
			return err
		}},
		{Name: "ledger_cleanup", Interval: CleanupInterval, Run: func(ctx context.Context) error {
			return cleanupLedgers(ctx, db, pruneAge)
		}},
	}
}

// snapshotPnL records the open-position count and a best-effort
// realized/unrealized split. Realized PnL is the virtual wallet's cash
// drift from its starting balance (simulation mode only has a notion of
// a single cash balance to diff against); unrealized PnL requires a live
// price oracle per open position, which is out of this repo's scope
// (spec.md names a Jupiter price feed as a later integration, not this
// one), so it is recorded as zero and is not used by any guard or alert.
func snapshotPnL(ctx context.Context, db *store.DB) error {
	openPositions, err := db.CountOpenPositions(ctx)
	if err != nil {
		return err
	}

	var realized int64
	if wallet, err := db.GetVirtualWallet(ctx); err == nil && wallet != nil {
		realized = wallet.CurrentCash - wallet.StartingBalance
	}

	return db.InsertPnLSnapshot(ctx, openPositions, realized, 0)
}

func cleanupLedgers(ctx context.Context, db *store.DB, pruneAge time.Duration) error {
	if _, err := db.PruneEventsOlderThan(ctx, pruneAge); err != nil {
		return err
	}
	if _, err := db.PruneMetricsOlderThan(ctx, pruneAge); err != nil {
		return err
	}
	return nil
}
