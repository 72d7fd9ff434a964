package risk

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/config"
	"solana-copytrader/internal/store"
	"solana-copytrader/internal/swap"
)

type alwaysOpenBreaker struct{ open bool }

func (b *alwaysOpenBreaker) IsOpen() bool { return b.open }

type fixedBalance struct{ lamports uint64 }

func (f *fixedBalance) AvailableLamports(ctx context.Context) (uint64, error) { return f.lamports, nil }

type noPositionLookup struct{}

func (noPositionLookup) HasTokenAccount(ctx context.Context, mint string) (bool, error) {
	return false, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			CopyRatio:           1.0,
			MaxPerTradeLamports: 5_000_000_000,
			MinPerTradeLamports: 10_000,
			MaxPerDayLamports:   0,
			MaxOpenPositions:    10,
			MaxFeePct:           5,
			MinReserveLamports:  0,
		},
	}
}

func newTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestEngine(t *testing.T, cfg *config.Config, breaker *alwaysOpenBreaker, bal *fixedBalance) (*Engine, *store.DB) {
	db := newTestStore(t)
	e := New(db, nil, nil, breaker, bal, noPositionLookup{}, "wallet", "upstream", func() *config.Config { return cfg })
	return e, db
}

func buyDescriptor(mint string, upstreamLamports int64) *swap.Descriptor {
	return &swap.Descriptor{
		Signature:       "sig1",
		Direction:       swap.Buy,
		TokenMint:       mint,
		UpstreamBaseRat: new(big.Rat).SetInt64(upstreamLamports),
		RawTokenAmount:  big.NewInt(1_000_000),
		Decimals:        6,
	}
}

func TestEvaluateBuy_RejectsWhenPaused(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.PauseTrading = true
	e, _ := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1_000_000_000_000})

	dec, err := e.EvaluateBuy(context.Background(), buyDescriptor("MintA", 1_000_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonPaused) {
		t.Fatalf("expected PAUSED rejection, got %+v", dec)
	}
}

func TestEvaluateBuy_RejectsWhenBreakerOpen(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(t, cfg, &alwaysOpenBreaker{open: true}, &fixedBalance{lamports: 1_000_000_000_000})

	dec, err := e.EvaluateBuy(context.Background(), buyDescriptor("MintA", 1_000_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonCircuitBreaker) {
		t.Fatalf("expected CIRCUIT_BREAKER rejection, got %+v", dec)
	}
}

func TestEvaluateBuy_RejectsUnsafeParseByDefault(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1_000_000_000_000})

	d := buyDescriptor("MintA", 1_000_000_000)
	d.UnsafeParse = true

	dec, err := e.EvaluateBuy(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonUnsafeParse) {
		t.Fatalf("expected UNSAFE_PARSE rejection, got %+v", dec)
	}
}

func TestEvaluateBuy_RejectsBelowMinTrade(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.MinPerTradeLamports = 1_000_000_000
	e, _ := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1_000_000_000_000})

	dec, err := e.EvaluateBuy(context.Background(), buyDescriptor("MintA", 1_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonBelowMinimum) {
		t.Fatalf("expected BELOW_MIN_TRADE rejection, got %+v", dec)
	}
}

func TestEvaluateBuy_RejectsBudgetExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.MaxPerDayLamports = 500_000
	cfg.Trading.MinPerTradeLamports = 100_000
	e, db := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1_000_000_000_000})

	dayKey := time.Now().UTC().Format("2006-01-02")
	if err := db.AddDailySpent(context.Background(), dayKey, 480_000); err != nil {
		t.Fatalf("seed daily spend: %v", err)
	}

	dec, err := e.EvaluateBuy(context.Background(), buyDescriptor("MintA", 1_000_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonBudgetExhausted) {
		t.Fatalf("expected BUDGET_EXHAUSTED rejection, got %+v", dec)
	}
}

func TestEvaluateBuy_RejectsCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.CooldownSeconds = 3600
	e, db := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1_000_000_000_000})

	if err := db.SetCooldown(context.Background(), "MintA"); err != nil {
		t.Fatalf("seed cooldown: %v", err)
	}

	dec, err := e.EvaluateBuy(context.Background(), buyDescriptor("MintA", 1_000_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonCooldown) {
		t.Fatalf("expected COOLDOWN rejection, got %+v", dec)
	}
}

func TestEvaluateBuy_RejectsFeeOverheadOnTinyTrade(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.MinPerTradeLamports = 1
	cfg.Trading.MaxPerTradeLamports = 1000
	cfg.Trading.MaxFeePct = 1
	e, _ := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1_000_000_000_000})

	dec, err := e.EvaluateBuy(context.Background(), buyDescriptor("MintA", 1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonFeeOverhead) {
		t.Fatalf("expected FEE_OVERHEAD rejection, got %+v", dec)
	}
}

func TestEvaluateBuy_RejectsInsufficientBalance(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1})

	dec, err := e.EvaluateBuy(context.Background(), buyDescriptor("MintA", 1_000_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonInsufficientBalance) {
		t.Fatalf("expected INSUFFICIENT_BALANCE rejection, got %+v", dec)
	}
}

func TestEvaluateBuy_RejectsMaxOpenPositions(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.MaxOpenPositions = 1
	e, db := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1_000_000_000_000})

	if err := db.UpsertPosition(context.Background(), &store.Position{
		TokenMint: "OtherMint", RawBalance: big.NewInt(1), Decimals: 6, Status: store.PositionConfirmed, UpdatedAt: 1,
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	dec, err := e.EvaluateBuy(context.Background(), buyDescriptor("MintA", 1_000_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonMaxPositions) {
		t.Fatalf("expected MAX_OPEN_POSITIONS rejection, got %+v", dec)
	}
}

func TestEvaluateSell_RejectsNoPosition(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1_000_000_000_000})

	d := &swap.Descriptor{Signature: "sig2", Direction: swap.Sell, TokenMint: "MintA", RawTokenAmount: big.NewInt(1), Decimals: 6, UpstreamBaseRat: new(big.Rat)}
	dec, err := e.EvaluateSell(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonNoPosition) {
		t.Fatalf("expected NO_POSITION rejection, got %+v", dec)
	}
}

func TestEvaluateSell_RejectsPositionNotConfirmedWhenSentAndDisallowed(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.AllowSellOnSentPosition = false
	cfg.Trading.SellOnSentTimeoutSeconds = 0 // times out immediately, no sleeping in tests
	e, db := newTestEngine(t, cfg, &alwaysOpenBreaker{}, &fixedBalance{lamports: 1_000_000_000_000})

	if err := db.UpsertPosition(context.Background(), &store.Position{
		TokenMint: "MintA", RawBalance: big.NewInt(1_000_000), Decimals: 6, Status: store.PositionSent, UpdatedAt: 1,
	}); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	d := &swap.Descriptor{Signature: "sig3", Direction: swap.Sell, TokenMint: "MintA", RawTokenAmount: big.NewInt(1), Decimals: 6, UpstreamBaseRat: new(big.Rat)}
	dec, err := e.EvaluateSell(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Execute || dec.Reason != string(ReasonPositionNotConfirmed) {
		t.Fatalf("expected POSITION_NOT_CONFIRMED rejection, got %+v", dec)
	}
}

func TestProposedSpend_CapsAtMaxPerTrade(t *testing.T) {
	s := proposedSpend(big.NewRat(10_000_000_000, 1), 1.0, 5_000_000_000)
	if s.Cmp(big.NewInt(5_000_000_000)) != 0 {
		t.Fatalf("expected cap at max_per_trade, got %s", s)
	}
}

func TestProposedSpend_AppliesCopyRatio(t *testing.T) {
	s := proposedSpend(big.NewRat(1_000_000_000, 1), 0.5, 5_000_000_000)
	if s.Cmp(big.NewInt(500_000_000)) != 0 {
		t.Fatalf("expected half of upstream amount, got %s", s)
	}
}

func TestPriceDrift_ZeroWhenPricesMatch(t *testing.T) {
	upstreamBase := big.NewRat(1_000_000_000, 1)
	upstreamToken := big.NewInt(1_000_000)
	quoteBase := big.NewInt(1_000_000_000)
	quoteOut := big.NewInt(1_000_000)

	drift := priceDrift(upstreamBase, upstreamToken, 6, quoteBase, quoteOut)
	if drift != 0 {
		t.Fatalf("expected zero drift for identical prices, got %f", drift)
	}
}

func TestPriceDrift_PositiveWhenQuoteIsWorse(t *testing.T) {
	upstreamBase := big.NewRat(1_000_000_000, 1)
	upstreamToken := big.NewInt(1_000_000)
	quoteBase := big.NewInt(1_100_000_000) // same token out costs 10% more base
	quoteOut := big.NewInt(1_000_000)

	drift := priceDrift(upstreamBase, upstreamToken, 6, quoteBase, quoteOut)
	if drift < 9 || drift > 11 {
		t.Fatalf("expected ~10%% drift, got %f", drift)
	}
}

func TestProportionalSellSize_ScalesByUpstreamFraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result": map[string]interface{}{
				"value": []map[string]interface{}{
					{
						"pubkey": "acct1",
						"account": map[string]interface{}{
							"data": map[string]interface{}{
								"parsed": map[string]interface{}{
									"info": map[string]interface{}{
										"mint": "MintA",
										"tokenAmount": map[string]interface{}{
											"amount":   "4000000",
											"decimals": 6,
										},
									},
								},
							},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer srv.Close()

	rpc := chain.NewClient(srv.URL, srv.URL, "")
	d := &swap.Descriptor{TokenMint: "MintA", RawTokenAmount: big.NewInt(1_000_000)}
	mySell := proportionalSellSize(context.Background(), rpc, "upstreamWallet", d, big.NewInt(2_000_000))
	if mySell.Sign() <= 0 {
		t.Fatalf("expected a positive sell size, got %s", mySell)
	}
}
