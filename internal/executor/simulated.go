package executor

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/aggregator"
	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/config"
	"solana-copytrader/internal/pipeline"
	"solana-copytrader/internal/position"
	"solana-copytrader/internal/solutil"
	"solana-copytrader/internal/store"
	"solana-copytrader/internal/swap"
)

// SimulatedExecutor never touches the chain: it validates virtual cash,
// applies the trade to the virtual ledger, and records a synthetic
// signature, per spec.md §4.7's DRY-RUN mode. feeLamports has two fee
// sub-modes: ESTIMATE (the adaptive guard's own formula) and ACCURATE
// (a simulate-only RPC call reads real compute units consumed, falling
// back to ESTIMATE on any failure). ACCURATE applies only when
// feeLamports is handed a serialized transaction; ExecuteBuy passes
// none, so every simulated buy is charged the ESTIMATE fee.
type SimulatedExecutor struct {
	db       *store.DB
	rpc      *chain.Client
	pos      *position.Manager
	wallet   string
	cfg      func() *config.Config
	accurate bool
}

// NewSimulated builds a simulation-mode executor. rpc may be nil when
// accurate is false, since ESTIMATE mode never calls the chain.
func NewSimulated(db *store.DB, rpc *chain.Client, pos *position.Manager, wallet string, cfg func() *config.Config, accurate bool) *SimulatedExecutor {
	return &SimulatedExecutor{db: db, rpc: rpc, pos: pos, wallet: wallet, cfg: cfg, accurate: accurate}
}

func (e *SimulatedExecutor) feeLamports(ctx context.Context, quoteTxBase64 string, isNewToken bool) uint64 {
	trading := e.cfg().Trading
	if !e.accurate || e.rpc == nil || quoteTxBase64 == "" {
		return estimateFeeLamports(trading, isNewToken)
	}
	sim, err := e.rpc.SimulateTransaction(ctx, quoteTxBase64)
	if err != nil || sim == nil || sim.Err != nil {
		log.Debug().Err(err).Msg("executor: accurate-mode simulate failed, falling back to ESTIMATE")
		return estimateFeeLamports(trading, isNewToken)
	}
	// 1 micro-lamport per compute unit is the standard baseline used by
	// the aggregator's own default priority-fee tier; units consumed
	// scales that into a real lamport figure layered on the base fee.
	priority := sim.UnitsConsumed / 1_000_000
	fee := uint64(baseTxFeeLamports) + priority
	if isNewToken {
		fee += ataRentLamports
	}
	return fee
}

func syntheticSignature() string {
	b := make([]byte, 64)
	_, _ = rand.Read(b)
	return solutil.EncodeBase58(b)
}

// ExecuteBuy validates virtual cash, debits it, credits the virtual
// portfolio, records the position as CONFIRMED immediately (simulation
// has no pending state), and updates the daily-budget and cooldown
// ledgers exactly as a live fill would.
func (e *SimulatedExecutor) ExecuteBuy(ctx context.Context, d *swap.Descriptor, dec *pipeline.Decision) (*pipeline.ExecResult, error) {
	start := time.Now()
	quote, _ := dec.Quote.(*aggregator.Quote)

	wallet, err := e.db.GetVirtualWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: load virtual wallet: %w", err)
	}
	if wallet == nil {
		return nil, fmt.Errorf("executor: virtual wallet not initialized")
	}

	hasAccount, _ := e.pos.HasTokenAccount(ctx, d.TokenMint)
	fee := e.feeLamports(ctx, "", !hasAccount)
	spend := dec.AmountRaw
	total := new(big.Int).Add(spend, new(big.Int).SetUint64(fee))

	if wallet.CurrentCash < total.Int64() {
		return &pipeline.ExecResult{Success: false, FailReason: "INSUFFICIENT_VIRTUAL_CASH", LatencyMs: time.Since(start).Milliseconds()}, nil
	}

	rawOut := spend
	decimals := d.Decimals
	if quote != nil {
		rawOut = quote.OutAmount
	}

	sig := syntheticSignature()
	if err := e.db.AdjustVirtualCash(ctx, -total.Int64()); err != nil {
		return nil, err
	}
	if err := e.db.UpsertVirtualPortfolio(ctx, d.TokenMint, total.Int64(), 0); err != nil {
		return nil, err
	}
	if err := e.db.RecordVirtualTrade(ctx, sig, "BUY", d.TokenMint, lamportsAsFloat(total), rawOut.String(), time.Now().Unix()); err != nil {
		log.Warn().Err(err).Msg("executor: failed to record virtual trade")
	}
	if err := e.pos.CreateBuy(ctx, d.TokenMint, rawOut, decimals, false); err != nil {
		return nil, fmt.Errorf("executor: create virtual position: %w", err)
	}
	if err := e.db.SetCooldown(ctx, d.TokenMint); err != nil {
		log.Warn().Err(err).Msg("executor: failed to set cooldown")
	}
	if err := e.db.AddDailySpent(ctx, todayKey(), spend.Uint64()); err != nil {
		log.Warn().Err(err).Msg("executor: failed to update daily spend")
	}

	return &pipeline.ExecResult{
		Success: true, Signature: sig, RawAmountOut: rawOut,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ExecuteSell credits the virtual cash ledger, reduces the virtual
// position, and records the fill.
func (e *SimulatedExecutor) ExecuteSell(ctx context.Context, d *swap.Descriptor, dec *pipeline.Decision) (*pipeline.ExecResult, error) {
	start := time.Now()
	quote, _ := dec.Quote.(*aggregator.Quote)

	// dec.AmountRaw is the proportional token quantity the risk engine
	// sized (proportionalSellSize); proceeds is the base lamports that
	// quantity quotes for, never the token amount itself.
	proceeds := dec.AmountRaw
	if quote != nil {
		proceeds = quote.OutAmount
	}

	sig := syntheticSignature()
	if err := e.db.AdjustVirtualCash(ctx, proceeds.Int64()); err != nil {
		return nil, err
	}
	if err := e.db.UpsertVirtualPortfolio(ctx, d.TokenMint, 0, proceeds.Int64()); err != nil {
		return nil, err
	}
	if err := e.db.RecordVirtualTrade(ctx, sig, "SELL", d.TokenMint, lamportsAsFloat(proceeds), dec.AmountRaw.String(), time.Now().Unix()); err != nil {
		log.Warn().Err(err).Msg("executor: failed to record virtual trade")
	}
	if err := e.pos.Sell(ctx, d.TokenMint, dec.AmountRaw); err != nil {
		return nil, fmt.Errorf("executor: reduce virtual position: %w", err)
	}

	return &pipeline.ExecResult{
		Success: true, Signature: sig, RawAmountOut: proceeds,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
