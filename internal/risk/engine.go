// Package risk evaluates every admitted swap descriptor against the
// configured trading limits, producing either an execution plan or a
// stable reject reason.
package risk

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/aggregator"
	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/config"
	"solana-copytrader/internal/pipeline"
	"solana-copytrader/internal/solutil"
	"solana-copytrader/internal/store"
	"solana-copytrader/internal/swap"
)

// Reason enumerates the stable reject-reason tags of spec.md §4.6/§7.
type Reason string

const (
	ReasonPaused               Reason = "PAUSED"
	ReasonCircuitBreaker       Reason = "CIRCUIT_BREAKER"
	ReasonUnsafeParse          Reason = "UNSAFE_PARSE"
	ReasonMaxPositions         Reason = "MAX_OPEN_POSITIONS"
	ReasonBelowMinimum         Reason = "BELOW_MIN_TRADE"
	ReasonBudgetExhausted      Reason = "BUDGET_EXHAUSTED"
	ReasonCooldown             Reason = "COOLDOWN"
	ReasonFeeOverhead          Reason = "FEE_OVERHEAD"
	ReasonInsufficientBalance  Reason = "INSUFFICIENT_BALANCE"
	ReasonUnsafeMintAuthority  Reason = "UNSAFE_MINT_AUTHORITY"
	ReasonUnroutableToken      Reason = "UNROUTABLE_TOKEN"
	ReasonPriceImpactTooHigh   Reason = "PRICE_IMPACT_TOO_HIGH"
	ReasonPriceDriftTooHigh    Reason = "PRICE_DRIFT_TOO_HIGH"
	ReasonNoPosition           Reason = "NO_POSITION"
	ReasonPositionNotConfirmed Reason = "POSITION_NOT_CONFIRMED"
)

// Solana protocol constants the adaptive fee guard estimates against.
const (
	baseTxFeeLamports    = 5000
	ataRentLamports      = 2_039_280
	quoteRetryDelay      = 1500 * time.Millisecond
	sellConfirmPoll      = 500 * time.Millisecond
)

// BreakerStatus reports whether the circuit breaker is currently open.
type BreakerStatus interface {
	IsOpen() bool
}

// BalanceSource abstracts live wallet balance vs. simulated virtual cash.
type BalanceSource interface {
	AvailableLamports(ctx context.Context) (uint64, error)
}

// PositionLookup abstracts a token mint's current position for the
// purpose of knowing whether it is a "new token" (ATA must be created).
type PositionLookup interface {
	HasTokenAccount(ctx context.Context, mint string) (bool, error)
}

// Engine implements pipeline.RiskEngine.
type Engine struct {
	store    *store.DB
	rpc      *chain.Client
	aggr     *aggregator.Client
	breaker  BreakerStatus
	balance  BalanceSource
	posCheck PositionLookup
	wallet   string
	upstream string
	cfg      func() *config.Config
}

// New creates a risk engine. cfg is called on every evaluation so live
// config hot-reload (per the teacher's config.Manager) takes effect
// immediately, mirroring signal.Handler's minEntry/takeProfit func fields.
func New(db *store.DB, rpc *chain.Client, aggr *aggregator.Client, breaker BreakerStatus, balance BalanceSource, posCheck PositionLookup, wallet, upstreamWallet string, cfg func() *config.Config) *Engine {
	return &Engine{
		store: db, rpc: rpc, aggr: aggr, breaker: breaker, balance: balance,
		posCheck: posCheck, wallet: wallet, upstream: upstreamWallet, cfg: cfg,
	}
}

func (e *Engine) commonGates(cfg config.TradingConfig) *pipeline.Decision {
	if cfg.PauseTrading {
		return reject(ReasonPaused)
	}
	if e.breaker.IsOpen() {
		return reject(ReasonCircuitBreaker)
	}
	return nil
}

func reject(r Reason) *pipeline.Decision {
	return &pipeline.Decision{Execute: false, Reason: string(r)}
}

// EvaluateBuy implements spec.md §4.6's BUY pipeline, steps 1-12.
func (e *Engine) EvaluateBuy(ctx context.Context, d *swap.Descriptor) (*pipeline.Decision, error) {
	full := e.cfg()
	cfg := full.Trading
	if dec := e.commonGates(cfg); dec != nil {
		return dec, nil
	}

	// 1. unsafe-parse gate.
	if d.UnsafeParse && !cfg.AllowUnsafeParseTrades {
		return reject(ReasonUnsafeParse), nil
	}

	// 2. open positions cap.
	openCount, err := e.store.CountOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenPositions > 0 && openCount >= cfg.MaxOpenPositions {
		return reject(ReasonMaxPositions), nil
	}

	// 3. proposed spend.
	s := proposedSpend(d.UpstreamBaseRat, cfg.CopyRatio, cfg.MaxPerTradeLamports)
	minTrade := new(big.Int).SetUint64(cfg.MinPerTradeLamports)
	if s.Cmp(minTrade) < 0 {
		return reject(ReasonBelowMinimum), nil
	}

	// 4. daily budget.
	dayKey := time.Now().UTC().Format("2006-01-02")
	spentToday, err := e.store.GetDailySpent(ctx, dayKey)
	if err != nil {
		return nil, err
	}
	if cfg.MaxPerDayLamports > 0 {
		maxDay := new(big.Int).SetUint64(cfg.MaxPerDayLamports)
		spent := new(big.Int).SetUint64(spentToday)
		remaining := new(big.Int).Sub(maxDay, spent)
		if remaining.Sign() < 0 {
			remaining.SetInt64(0)
		}
		if s.Cmp(remaining) > 0 {
			s = remaining
		}
		if s.Cmp(minTrade) < 0 {
			return reject(ReasonBudgetExhausted), nil
		}
	}

	// 5. cooldown.
	lastTrade, err := e.store.GetCooldown(ctx, d.TokenMint)
	if err != nil {
		return nil, err
	}
	if lastTrade > 0 && cfg.CooldownSeconds > 0 {
		elapsed := time.Now().Unix() - lastTrade
		if elapsed < int64(cfg.CooldownSeconds) {
			return reject(ReasonCooldown), nil
		}
	}

	// 6. adaptive fee guard.
	isNewToken := true
	if e.posCheck != nil {
		has, err := e.posCheck.HasTokenAccount(ctx, d.TokenMint)
		if err == nil {
			isNewToken = !has
		}
	}
	feeLamports := uint64(baseTxFeeLamports) + cfg.PriorityFeeLamports
	if isNewToken {
		feeLamports += ataRentLamports
	}
	sFloat, _ := new(big.Float).SetInt(s).Float64()
	feePct := 0.0
	if sFloat > 0 {
		feePct = float64(feeLamports) / sFloat * 100
	}
	threshold := cfg.MaxFeePct
	switch {
	case sFloat >= 0.5*solutil.LamportsPerSOL:
		// base threshold
	case sFloat >= 0.1*solutil.LamportsPerSOL:
		threshold *= 2
	default:
		threshold *= 3
	}
	if feePct > threshold {
		return reject(ReasonFeeOverhead), nil
	}

	// 7. balance guard.
	available, err := e.balance.AvailableLamports(ctx)
	if err != nil {
		return nil, err
	}
	required := new(big.Int).Add(s, big.NewInt(int64(feeLamports)))
	required.Add(required, new(big.Int).SetUint64(cfg.MinReserveLamports))
	if required.Cmp(new(big.Int).SetUint64(available)) > 0 {
		return reject(ReasonInsufficientBalance), nil
	}

	// 8. token-safety check (optional).
	if cfg.BlockIfMintAuthority || cfg.BlockIfFreezeAuthority {
		authorities, err := e.rpc.GetMintAuthorities(ctx, d.TokenMint)
		if err != nil {
			log.Warn().Err(err).Str("mint", d.TokenMint).Msg("risk: mint authority check failed, proceeding")
		} else if authorities != nil {
			if cfg.BlockIfMintAuthority && authorities.MintAuthoritySet {
				return reject(ReasonUnsafeMintAuthority), nil
			}
			if cfg.BlockIfFreezeAuthority && authorities.FreezeAuthoritySet {
				return reject(ReasonUnsafeMintAuthority), nil
			}
		}
	}

	// 9. routing quote with one retry.
	baseMint := full.Wallet.BaseMint
	if baseMint == "" {
		baseMint = solutil.WrappedSOLMint
	}
	quote, err := e.quoteWithRetry(ctx, baseMint, d.TokenMint, s)
	if err != nil {
		return reject(ReasonUnroutableToken), nil
	}

	// 10. price-impact cap.
	if full.Aggregator.MaxPriceImpactBps > 0 {
		impactBps := quote.PriceImpactPct * 100
		if impactBps > float64(full.Aggregator.MaxPriceImpactBps) {
			return reject(ReasonPriceImpactTooHigh), nil
		}
	}

	// 11. price-drift guard.
	driftPct := 0.0
	if !(d.UnsafeParse && cfg.DisableDriftGuardOnUnsafeParse) {
		driftPct = priceDrift(d.UpstreamBaseRat, d.RawTokenAmount, d.Decimals, s, quote.OutAmount)
		if cfg.MaxPriceDriftPct > 0 && driftPct > cfg.MaxPriceDriftPct {
			return reject(ReasonPriceDriftTooHigh), nil
		}
	}

	// 12. emit the trade plan.
	return &pipeline.Decision{
		Execute:       true,
		AmountRaw:     s,
		Quote:         quote,
		PriceDriftPct: driftPct,
	}, nil
}

// EvaluateSell implements spec.md §4.6's SELL pipeline, steps 1-6.
func (e *Engine) EvaluateSell(ctx context.Context, d *swap.Descriptor) (*pipeline.Decision, error) {
	full := e.cfg()
	cfg := full.Trading
	if dec := e.commonGates(cfg); dec != nil {
		return dec, nil
	}

	// 1. no position.
	pos, err := e.store.GetPosition(ctx, d.TokenMint)
	if err != nil {
		return nil, err
	}
	if pos == nil || pos.RawBalance.Sign() <= 0 {
		return reject(ReasonNoPosition), nil
	}

	// 2. SENT-position poll.
	var waitMs int64
	if pos.Status == store.PositionSent && !cfg.AllowSellOnSentPosition {
		waitMs, pos, err = e.waitForConfirmation(ctx, d.TokenMint, cfg.SellOnSentTimeoutSeconds)
		if err != nil {
			return nil, err
		}
		if pos == nil || pos.Status != store.PositionConfirmed {
			return &pipeline.Decision{Execute: false, Reason: string(ReasonPositionNotConfirmed), WaitMs: waitMs}, nil
		}
	}

	// 3. proportional sell size.
	mySell := proportionalSellSize(ctx, e.rpc, e.upstream, d, pos.RawBalance)

	// 5. quote with one retry (step 4, no cooldown on SELL, is simply
	// never applied — the cooldown ledger is only touched by BUYs).
	baseMint := full.Wallet.BaseMint
	if baseMint == "" {
		baseMint = solutil.WrappedSOLMint
	}
	quote, err := e.quoteWithRetry(ctx, d.TokenMint, baseMint, mySell)
	if err != nil {
		return reject(ReasonUnroutableToken), nil
	}

	// 6. high price-impact on a SELL is logged, not rejected.
	if full.Aggregator.MaxPriceImpactBps > 0 && quote.PriceImpactPct*100 > float64(full.Aggregator.MaxPriceImpactBps) {
		log.Info().Str("mint", d.TokenMint).Float64("impact_pct", quote.PriceImpactPct).Msg("risk: high price impact on sell, proceeding anyway")
	}

	return &pipeline.Decision{
		Execute:   true,
		AmountRaw: mySell,
		Quote:     quote,
		WaitMs:    waitMs,
	}, nil
}

// waitForConfirmation polls the store every 500ms up to timeoutSeconds for
// a SENT position to transition to CONFIRMED.
func (e *Engine) waitForConfirmation(ctx context.Context, mint string, timeoutSeconds int) (int64, *store.Position, error) {
	start := time.Now()
	deadline := start.Add(time.Duration(timeoutSeconds) * time.Second)
	for {
		pos, err := e.store.GetPosition(ctx, mint)
		if err != nil {
			return time.Since(start).Milliseconds(), nil, err
		}
		if pos != nil && pos.Status == store.PositionConfirmed {
			return time.Since(start).Milliseconds(), pos, nil
		}
		if !time.Now().Before(deadline) {
			return time.Since(start).Milliseconds(), pos, nil
		}
		time.Sleep(sellConfirmPoll)
	}
}

// proportionalSellSize implements step 3: assume B_before = B_now +
// upstream_sold, scale our own balance by the same fraction the upstream
// wallet sold, falling back to a full exit if the fraction can't be
// determined.
func proportionalSellSize(ctx context.Context, rpc *chain.Client, upstreamWallet string, d *swap.Descriptor, myBalance *big.Int) *big.Int {
	accounts, err := rpc.GetTokenAccountsByOwner(ctx, upstreamWallet, d.TokenMint)
	if err != nil || len(accounts) == 0 {
		return new(big.Int).Set(myBalance)
	}
	bNow, ok := new(big.Int).SetString(accounts[0].Amount, 10)
	if !ok {
		return new(big.Int).Set(myBalance)
	}
	bBefore := new(big.Int).Add(bNow, d.RawTokenAmount)
	if bBefore.Sign() <= 0 {
		return new(big.Int).Set(myBalance)
	}

	fraction := new(big.Rat).SetFrac(d.RawTokenAmount, bBefore)
	if fraction.Cmp(big.NewRat(1, 1)) > 0 {
		fraction = big.NewRat(1, 1)
	}

	product := new(big.Rat).Mul(new(big.Rat).SetInt(myBalance), fraction)
	mySell := new(big.Int).Quo(product.Num(), product.Denom())
	if mySell.Cmp(myBalance) > 0 {
		mySell = new(big.Int).Set(myBalance)
	}
	return mySell
}

func (e *Engine) quoteWithRetry(ctx context.Context, inputMint, outputMint string, amount *big.Int) (*aggregator.Quote, error) {
	quote, err := e.aggr.GetQuote(ctx, inputMint, outputMint, amount)
	if err == nil {
		return quote, nil
	}
	time.Sleep(quoteRetryDelay)
	return e.aggr.GetQuote(ctx, inputMint, outputMint, amount)
}

// proposedSpend computes s = min(upstreamLamports * copyRatio, maxPerTrade),
// floored to the nearest lamport.
func proposedSpend(upstreamLamports *big.Rat, copyRatio float64, maxPerTrade uint64) *big.Int {
	ratio := new(big.Rat).SetFloat64(copyRatio)
	if ratio == nil {
		ratio = big.NewRat(1, 1)
	}
	product := new(big.Rat).Mul(upstreamLamports, ratio)
	s := new(big.Int).Quo(product.Num(), product.Denom())
	if maxPerTrade > 0 {
		max := new(big.Int).SetUint64(maxPerTrade)
		if s.Cmp(max) > 0 {
			s = max
		}
	}
	return s
}

// priceDrift computes the percentage drift between the upstream wallet's
// realized price and the quote's implied price, per spec.md §4.6 step 11.
// This is the one place floating point is permitted (drift is a display/
// guard figure, not a ledger amount).
func priceDrift(upstreamBase *big.Rat, upstreamToken *big.Int, decimals int, quoteBase, quoteTokenOut *big.Int) float64 {
	if upstreamToken.Sign() == 0 || quoteTokenOut.Sign() == 0 {
		return 0
	}
	scale := new(big.Rat).SetFloat64(pow10f(decimals))

	upstreamTokenUI := new(big.Rat).Quo(new(big.Rat).SetInt(upstreamToken), scale)
	pSrc := new(big.Rat).Quo(upstreamBase, upstreamTokenUI)

	quoteTokenUI := new(big.Rat).Quo(new(big.Rat).SetInt(quoteTokenOut), scale)
	quoteBaseRat := new(big.Rat).SetInt(quoteBase)
	pQuote := new(big.Rat).Quo(quoteBaseRat, quoteTokenUI)

	ratio := new(big.Rat).Quo(pQuote, pSrc)
	ratioF, _ := ratio.Float64()
	return (ratioF - 1) * 100
}

func pow10f(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
