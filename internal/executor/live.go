package executor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/aggregator"
	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/config"
	"solana-copytrader/internal/pipeline"
	"solana-copytrader/internal/position"
	"solana-copytrader/internal/retry"
	"solana-copytrader/internal/store"
	"solana-copytrader/internal/swap"
)

const (
	sendMaxRetries     = 2
	confirmPollEvery   = 1 * time.Second
	confirmMaxWait     = 45 * time.Second
	compareDelay       = 2500 * time.Millisecond
)

// LiveExecutor signs and submits the aggregator-prepared transaction for a
// risk-approved decision, confirms it, and updates position/ledger state,
// per spec.md §4.7's Live mode. Grounded on the teacher's executor_fast.go
// "register pending, then race to confirm" shape and its exponential
// backoff send loop, now built on internal/retry.
type LiveExecutor struct {
	db     *store.DB
	rpc    *chain.Client
	aggr   *aggregator.Client
	signer *chain.Signer
	wallet *chain.Wallet
	pos    *position.Manager
	cfg    func() *config.Config
}

// New builds a live executor.
func New(db *store.DB, rpc *chain.Client, aggr *aggregator.Client, signer *chain.Signer, wallet *chain.Wallet, pos *position.Manager, cfg func() *config.Config) *LiveExecutor {
	return &LiveExecutor{db: db, rpc: rpc, aggr: aggr, signer: signer, wallet: wallet, pos: pos, cfg: cfg}
}

// ExecuteBuy requests, signs, and submits the swap, records a SENT
// position immediately to prevent the gap between send and confirmation
// from looking like an open slot, then schedules the async comparison
// task.
func (e *LiveExecutor) ExecuteBuy(ctx context.Context, d *swap.Descriptor, dec *pipeline.Decision) (*pipeline.ExecResult, error) {
	return e.execute(ctx, d, dec, true)
}

// ExecuteSell mirrors ExecuteBuy for the SELL side; sold positions are
// reduced only after confirmation succeeds, since an unconfirmed sell
// must not understate the position the next SELL evaluation sees.
func (e *LiveExecutor) ExecuteSell(ctx context.Context, d *swap.Descriptor, dec *pipeline.Decision) (*pipeline.ExecResult, error) {
	return e.execute(ctx, d, dec, false)
}

func (e *LiveExecutor) execute(ctx context.Context, d *swap.Descriptor, dec *pipeline.Decision, isBuy bool) (*pipeline.ExecResult, error) {
	start := time.Now()
	quote, _ := dec.Quote.(*aggregator.Quote)
	if quote == nil {
		return &pipeline.ExecResult{Success: false, FailReason: "MISSING_QUOTE"}, nil
	}

	swapResult, err := e.aggr.GetSwapTransaction(ctx, quote, e.wallet.Address())
	if err != nil {
		return &pipeline.ExecResult{Success: false, FailReason: "BUILD_SWAP_TX: " + chain.HumanError(err), LatencyMs: time.Since(start).Milliseconds()}, nil
	}

	signed, err := e.signer.SignSerializedTransaction(swapResult.SwapTransactionBase64)
	if err != nil {
		return &pipeline.ExecResult{Success: false, FailReason: "SIGN: " + chain.HumanError(err), LatencyMs: time.Since(start).Milliseconds()}, nil
	}

	var sig string
	sendErr := retry.Do(ctx, sendMaxRetries, func(attempt int) error {
		s, err := e.rpc.SendTransaction(ctx, signed, true)
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	if sendErr != nil {
		return &pipeline.ExecResult{Success: false, FailReason: "SEND: " + chain.HumanError(sendErr), LatencyMs: time.Since(start).Milliseconds()}, nil
	}

	if isBuy {
		if err := e.pos.CreateBuy(ctx, d.TokenMint, quote.OutAmount, d.Decimals, true); err != nil {
			log.Error().Err(err).Str("mint", d.TokenMint).Msg("executor: failed to record SENT position")
		}
	}

	confirmed, confErr := e.waitForConfirmation(ctx, sig, swapResult.LastValidBlockHeight)
	if confErr != nil || !confirmed {
		if isBuy {
			if err := e.pos.Fail(ctx, d.TokenMint, quote.OutAmount); err != nil {
				log.Error().Err(err).Str("mint", d.TokenMint).Msg("executor: failed to roll back unconfirmed buy")
			}
		}
		reason := "CONFIRMATION_TIMEOUT"
		if confErr != nil {
			reason = "CONFIRMATION_ERROR: " + chain.HumanError(confErr)
		}
		return &pipeline.ExecResult{Success: false, FailReason: reason, Signature: sig, LatencyMs: time.Since(start).Milliseconds()}, nil
	}

	if isBuy {
		if err := e.pos.Confirm(ctx, d.TokenMint); err != nil {
			log.Error().Err(err).Str("mint", d.TokenMint).Msg("executor: failed to confirm position")
		}
		if err := e.db.SetCooldown(ctx, d.TokenMint); err != nil {
			log.Warn().Err(err).Msg("executor: failed to set cooldown")
		}
		if err := e.db.AddDailySpent(ctx, todayKey(), dec.AmountRaw.Uint64()); err != nil {
			log.Warn().Err(err).Msg("executor: failed to update daily spend")
		}
	} else {
		if err := e.pos.Sell(ctx, d.TokenMint, dec.AmountRaw); err != nil {
			log.Error().Err(err).Str("mint", d.TokenMint).Msg("executor: failed to reduce position after confirmed sell")
		}
	}

	result := &pipeline.ExecResult{
		Success: true, Signature: sig, RawAmountOut: quote.OutAmount,
		LatencyMs: time.Since(start).Milliseconds(),
	}

	go e.compareExecution(sig, quote, isBuy)

	return result, nil
}

// waitForConfirmation polls getSignatureStatuses every confirmPollEvery
// until the transaction reaches "confirmed" or "finalized", reports an
// on-chain error, ctx is cancelled, or confirmMaxWait elapses.
// lastValidBlockHeight is not consulted: expiry is judged by wall-clock
// time only.
func (e *LiveExecutor) waitForConfirmation(ctx context.Context, signature string, lastValidBlockHeight uint64) (bool, error) {
	deadline := time.Now().Add(confirmMaxWait)
	ticker := time.NewTicker(confirmPollEvery)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		statuses, err := e.rpc.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			return false, err
		}
		if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return false, fmt.Errorf("transaction failed on-chain: %v", st.Err)
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return true, nil
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
	return false, nil
}

// compareExecution fetches the finalized transaction ~2.5s after send and
// logs quoted-vs-real deltas, raising a warning if slippage exceeds the
// configured alert threshold. Runs detached from the triggering request,
// matching the teacher's fire-and-forget post-trade monitoring style.
func (e *LiveExecutor) compareExecution(signature string, quote *aggregator.Quote, isBuy bool) {
	time.Sleep(compareDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := e.rpc.GetParsedTransaction(ctx, signature)
	if err != nil || tx == nil {
		log.Debug().Err(err).Str("sig", signature).Msg("executor: execution comparison fetch failed")
		return
	}

	idx := tx.WalletIndex(e.wallet.Address())
	if idx < 0 {
		return
	}
	realBaseDelta := tx.BaseDelta(idx)

	expected := new(big.Int)
	if isBuy {
		expected.Neg(quote.InAmount)
	} else {
		expected.Set(quote.OutAmount)
	}
	expectedF, _ := new(big.Float).SetInt(expected).Float64()
	if expectedF == 0 {
		return
	}
	slippagePct := (float64(realBaseDelta) - expectedF) / expectedF * 100

	alertPct := e.cfg().Trading.CompareAlertPct
	logEvt := log.Debug()
	if alertPct > 0 && (slippagePct > alertPct || slippagePct < -alertPct) {
		logEvt = log.Warn()
	}
	logEvt.Str("sig", signature).Float64("slippage_pct", slippagePct).
		Int64("real_base_delta", realBaseDelta).Msg("executor: execution comparison")

	realOut := big.NewInt(realBaseDelta)
	if realBaseDelta < 0 {
		realOut = new(big.Int).Neg(realOut)
	}
	quotedOut := quote.OutAmount
	if isBuy {
		quotedOut = quote.InAmount
	}
	if err := e.db.InsertExecutionComparison(ctx, signature, quotedOut.String(), realOut.String(),
		tx.Fee, uint32(tx.ComputeUnitsConsumed), slippagePct); err != nil {
		log.Warn().Err(err).Str("sig", signature).Msg("executor: failed to persist execution comparison")
	}
}
