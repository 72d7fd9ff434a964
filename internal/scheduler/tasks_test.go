package scheduler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"solana-copytrader/internal/position"
	"solana-copytrader/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSnapshotPnL_RecordsOpenPositionsAndRealizedDrift(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.UpsertPosition(ctx, &store.Position{
		TokenMint: "MintA", RawBalance: big.NewInt(1), Decimals: 6,
		Status: store.PositionConfirmed, UpdatedAt: time.Now().Unix(),
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	if err := db.InitVirtualWallet(ctx, 1_000_000_000); err != nil {
		t.Fatalf("init virtual wallet: %v", err)
	}
	if err := db.AdjustVirtualCash(ctx, -100_000_000); err != nil {
		t.Fatalf("adjust virtual cash: %v", err)
	}

	if err := snapshotPnL(ctx, db); err != nil {
		t.Fatalf("snapshotPnL: %v", err)
	}
	// No direct getter for the latest snapshot row is exposed; a clean
	// error-free run against a real schema is the assertion here, since
	// the insert statement itself would fail on a column/type mismatch.
}

func TestCleanupLedgers_PrunesOldRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.InsertEventIfNew(ctx, "oldsig"); err != nil {
		t.Fatalf("insert event: %v", err)
	}

	// A negative age pushes the cutoff into the future, guaranteeing the
	// just-inserted row (second-resolution timestamp) is pruned regardless
	// of where "now" falls within the current second.
	if err := cleanupLedgers(ctx, db, -1*time.Hour); err != nil {
		t.Fatalf("cleanupLedgers: %v", err)
	}

	isNew, err := db.InsertEventIfNew(ctx, "oldsig")
	if err != nil {
		t.Fatalf("re-check event: %v", err)
	}
	if !isNew {
		t.Fatalf("expected pruned signature to be treated as new again")
	}
}

func TestDefaultTasks_ReapsStaleSentPositions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	pos := position.New(db)

	if err := db.UpsertPosition(ctx, &store.Position{
		TokenMint: "Stale", RawBalance: big.NewInt(1_000_000), PendingRawBalance: big.NewInt(1_000_000), Decimals: 6,
		Status: store.PositionSent, UpdatedAt: time.Now().Add(-10 * time.Minute).Unix(),
	}); err != nil {
		t.Fatalf("seed stale position: %v", err)
	}

	tasks := DefaultTasks(db, pos, time.Hour)
	var reapTask *Task
	for i := range tasks {
		if tasks[i].Name == "stale_sent_reap" {
			reapTask = &tasks[i]
		}
	}
	if reapTask == nil {
		t.Fatalf("expected a stale_sent_reap task in DefaultTasks")
	}

	if err := reapTask.Run(ctx); err != nil {
		t.Fatalf("reap task: %v", err)
	}

	p, err := pos.Get(ctx, "Stale")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p != nil {
		t.Fatalf("expected stale SENT position reaped, got %+v", p)
	}
}
