package pipeline

import (
	"context"
	"math/big"
	"testing"
	"time"

	"solana-copytrader/internal/store"
	"solana-copytrader/internal/swap"
)

const testWallet = "Wallet1111111111111111111111111111111111"

func newTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeRisk struct {
	decision *Decision
	err      error
}

func (f *fakeRisk) EvaluateBuy(ctx context.Context, d *swap.Descriptor) (*Decision, error) {
	return f.decision, f.err
}
func (f *fakeRisk) EvaluateSell(ctx context.Context, d *swap.Descriptor) (*Decision, error) {
	return f.decision, f.err
}

type fakeExecutor struct {
	result *ExecResult
	err    error
}

func (f *fakeExecutor) ExecuteBuy(ctx context.Context, d *swap.Descriptor, dec *Decision) (*ExecResult, error) {
	return f.result, f.err
}
func (f *fakeExecutor) ExecuteSell(ctx context.Context, d *swap.Descriptor, dec *Decision) (*ExecResult, error) {
	return f.result, f.err
}

type fakeBreaker struct {
	outcomes []Outcome
}

func (f *fakeBreaker) Record(o Outcome) { f.outcomes = append(f.outcomes, o) }

func newBuyTx(sig string) *swap.RawTransaction {
	return &swap.RawTransaction{
		Signature: sig,
		Source:    swap.SourceWebhook,
		Events: []swap.StructuredEvent{
			{Account: testWallet, NativeIn: big.NewInt(1_000_000_000), TokenMint: "MintA", TokenAmount: big.NewInt(5_000_000), TokenDecimals: 6},
		},
	}
}

func TestPipeline_ProcessesRejectedBuy(t *testing.T) {
	db := newTestStore(t)
	risk := &fakeRisk{decision: &Decision{Execute: false, Reason: "BUDGET_EXHAUSTED"}}
	breaker := &fakeBreaker{}
	p := New(db, NewPendingBuys(), risk, &fakeExecutor{}, breaker, db, testWallet)
	p.Start()
	defer p.Stop()

	p.Submit(context.Background(), newBuyTx("sig-reject-1"))

	waitForMetrics(t, db, 1)
	rows, _ := db.RecentMetrics(context.Background(), 1)
	if rows[0].Outcome != "REJECTED" || rows[0].RejectReason != "BUDGET_EXHAUSTED" {
		t.Fatalf("unexpected metric row: %+v", rows[0])
	}
	if len(breaker.outcomes) != 1 || breaker.outcomes[0].Success {
		t.Fatalf("expected breaker to record a failed outcome, got %+v", breaker.outcomes)
	}
}

func TestPipeline_ProcessesExecutedBuy(t *testing.T) {
	db := newTestStore(t)
	risk := &fakeRisk{decision: &Decision{Execute: true, AmountRaw: big.NewInt(1_000_000_000)}}
	exec := &fakeExecutor{result: &ExecResult{Success: true, Signature: "out-sig"}}
	breaker := &fakeBreaker{}
	p := New(db, NewPendingBuys(), risk, exec, breaker, db, testWallet)
	p.Start()
	defer p.Stop()

	p.Submit(context.Background(), newBuyTx("sig-exec-1"))

	waitForMetrics(t, db, 1)
	rows, _ := db.RecentMetrics(context.Background(), 1)
	if rows[0].Outcome != "EXECUTED" {
		t.Fatalf("expected EXECUTED outcome, got %+v", rows[0])
	}
	if len(breaker.outcomes) != 1 || !breaker.outcomes[0].Success {
		t.Fatalf("expected breaker to record a success, got %+v", breaker.outcomes)
	}
}

func TestPipeline_DuplicateSignatureOnlyProcessedOnce(t *testing.T) {
	db := newTestStore(t)
	risk := &fakeRisk{decision: &Decision{Execute: true, AmountRaw: big.NewInt(1)}}
	exec := &fakeExecutor{result: &ExecResult{Success: true}}
	breaker := &fakeBreaker{}
	p := New(db, NewPendingBuys(), risk, exec, breaker, db, testWallet)
	p.Start()
	defer p.Stop()

	tx := newBuyTx("sig-dup-1")
	go p.Submit(context.Background(), tx)
	go p.Submit(context.Background(), tx)

	// Give both submissions time to reach the worker; only one should
	// have passed the idempotency ledger's check-and-insert.
	time.Sleep(200 * time.Millisecond)

	rows, _ := db.RecentMetrics(context.Background(), 10)
	if len(rows) != 1 {
		t.Fatalf("expected exactly 1 metric row for a duplicate signature, got %d", len(rows))
	}
}

func TestPipeline_ClearsPendingBuyFlagAfterProcessing(t *testing.T) {
	db := newTestStore(t)
	risk := &fakeRisk{decision: &Decision{Execute: true, AmountRaw: big.NewInt(1)}}
	exec := &fakeExecutor{result: &ExecResult{Success: true}}
	pending := NewPendingBuys()
	p := New(db, pending, risk, exec, &fakeBreaker{}, db, testWallet)
	p.Start()
	defer p.Stop()

	p.Submit(context.Background(), newBuyTx("sig-pending-1"))
	waitForMetrics(t, db, 1)

	if pending.Has("MintA") {
		t.Fatal("expected pending-buy flag to be cleared after processing")
	}
}

func waitForMetrics(t *testing.T, db *store.DB, want int) {
	t.Helper()
	for i := 0; i < 100; i++ {
		rows, _ := db.RecentMetrics(context.Background(), want+5)
		if len(rows) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d metric rows", want)
}
