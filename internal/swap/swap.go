// Package swap turns a raw upstream transaction record into a canonical
// Descriptor describing what the monitored wallet bought or sold, or
// reports that the transaction was not a swap at all.
package swap

import (
	"errors"
	"math/big"

	"solana-copytrader/internal/solutil"
)

// Direction is the side of a swap relative to the monitored wallet.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Source tags where the raw transaction record came from, carried through
// into the pipeline metric.
type Source string

const (
	SourceWebhook         Source = "webhook"
	SourceWebhookFallback Source = "webhook-fallback"
	SourceSubscription    Source = "subscription"
	SourcePoll            Source = "poll"
)

// ErrNotASwap is returned when none of the three parsing paths can
// identify a qualifying swap in the transaction.
var ErrNotASwap = errors.New("swap: transaction is not a recognizable swap")

// minBaseAmount is the structured-event acceptance floor: 0.00005 of the
// base asset, expressed in base-minor-units.
const minBaseAmount = 50_000

// intermediateMints is the fixed set of tokens that may never be selected
// as the canonical swap token: wrapped base asset, main stablecoins, and
// staked-base derivatives.
var intermediateMints = map[string]bool{
	solutil.WrappedSOLMint:                        true, // wrapped SOL
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": true, // USDC
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": true, // USDT
	"J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn":  true, // jitoSOL
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":   true, // mSOL
	"7dHbWXmci3dT8UFYWYZweBLXgycu7Y3iL6trKn1Y7ARj":  true, // stSOL
}

// IsIntermediate reports whether mint belongs to the fixed intermediate set.
func IsIntermediate(mint string) bool {
	return intermediateMints[mint]
}

// Descriptor is the canonical, ephemeral description of one copy-tradeable
// swap performed by the monitored wallet.
type Descriptor struct {
	Signature        string
	Direction        Direction
	TokenMint        string
	UpstreamBaseRat  *big.Rat // base-asset amount paid (BUY) or received (SELL), high precision
	RawTokenAmount   *big.Int // arbitrary-precision raw token delta
	Decimals         int
	Source           Source
	UnsafeParse      bool
}

// BalanceDelta is one token's net change across a transaction for a single
// owner, used by parse paths 2 and 3.
type BalanceDelta struct {
	Mint        string
	Owner       string
	Decimals    int
	RawDelta    *big.Int // signed: positive = increase, negative = decrease
	UIDelta     float64  // only populated on transfer-list reconstruction
}

// StructuredEvent is a decoded aggregator-program event log entry, the
// strongest parsing signal when present.
type StructuredEvent struct {
	Account      string
	NativeIn     *big.Int // lamports paid by Account, nil if not applicable
	NativeOut    *big.Int // lamports received by Account, nil if not applicable
	TokenMint    string
	TokenAmount  *big.Int // raw token amount moved
	TokenDecimals int
}

// RawTransaction is the tagged variant over the three inputs the parser
// can consume, mirroring what each ingestion source is able to supply.
// A producer populates whichever fields it was able to extract; the
// parser tries them in priority order and uses the first that yields a
// qualifying swap.
type RawTransaction struct {
	Signature string
	Source    Source

	// Path 1: structured aggregator events, if the payload decoded one.
	Events []StructuredEvent

	// Path 2: pre/post balance deltas for the monitored wallet, the
	// authoritative fallback sourced from chain RPC.
	BaseDelta    *big.Int // lamports delta at the wallet's account index
	TokenDeltas  []BalanceDelta

	// Path 3: reconstructed from a plain transfer list when neither of
	// the above is available; decimals are unknown so they're
	// approximated and UnsafeParse is set.
	TransferDeltas []BalanceDelta

	// SellBufferMs is set by the pipeline serializer before Parse is
	// called a second time inside the worker, carrying the sell-before-
	// buy wait duration into the metric row.
	SellBufferMs int64
}

// Parse implements the three-path priority algorithm. It is pure: no I/O,
// no mutation of shared state.
func Parse(tx *RawTransaction, wallet string) (*Descriptor, error) {
	if d := parseStructuredEvent(tx, wallet); d != nil {
		return d, nil
	}
	if d := parseBalanceDeltas(tx, wallet); d != nil {
		return d, nil
	}
	if d := parseTransferList(tx, wallet); d != nil {
		return d, nil
	}
	return nil, ErrNotASwap
}

func parseStructuredEvent(tx *RawTransaction, wallet string) *Descriptor {
	type candidate struct {
		dir      Direction
		baseAmt  *big.Int
		mint     string
		rawAmt   *big.Int
		decimals int
	}
	var candidates []candidate

	for _, ev := range tx.Events {
		if ev.Account != wallet {
			continue
		}
		if IsIntermediate(ev.TokenMint) {
			continue
		}
		switch {
		case ev.NativeIn != nil && ev.TokenAmount != nil:
			candidates = append(candidates, candidate{Buy, ev.NativeIn, ev.TokenMint, ev.TokenAmount, ev.TokenDecimals})
		case ev.NativeOut != nil && ev.TokenAmount != nil:
			candidates = append(candidates, candidate{Sell, ev.NativeOut, ev.TokenMint, ev.TokenAmount, ev.TokenDecimals})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if absBigInt(c.rawAmt).Cmp(absBigInt(best.rawAmt)) > 0 {
			best = c
		}
	}
	if best.baseAmt.CmpAbs(big.NewInt(minBaseAmount)) < 0 {
		return nil
	}

	return &Descriptor{
		Signature:       tx.Signature,
		Direction:       best.dir,
		TokenMint:       best.mint,
		UpstreamBaseRat: new(big.Rat).SetInt(best.baseAmt),
		RawTokenAmount:  new(big.Int).Abs(best.rawAmt),
		Decimals:        best.decimals,
		Source:          tx.Source,
		UnsafeParse:     false,
	}
}

func parseBalanceDeltas(tx *RawTransaction, wallet string) *Descriptor {
	if tx.BaseDelta == nil || len(tx.TokenDeltas) == 0 {
		return nil
	}

	var candidates []BalanceDelta
	for _, td := range tx.TokenDeltas {
		if td.Owner != wallet {
			continue
		}
		if IsIntermediate(td.Mint) {
			continue
		}
		if td.RawDelta == nil || td.RawDelta.Sign() == 0 {
			continue
		}
		candidates = append(candidates, td)
	}
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if absBigInt(c.RawDelta).Cmp(absBigInt(best.RawDelta)) > 0 {
			best = c
		}
	}

	var dir Direction
	switch {
	case tx.BaseDelta.Sign() > 0:
		dir = Sell
	case tx.BaseDelta.Sign() < 0:
		dir = Buy
	default:
		return nil
	}

	// Cross-validate: token delta sign must agree with direction.
	tokenSign := best.RawDelta.Sign()
	if dir == Buy && tokenSign <= 0 {
		return nil
	}
	if dir == Sell && tokenSign >= 0 {
		return nil
	}

	return &Descriptor{
		Signature:       tx.Signature,
		Direction:       dir,
		TokenMint:       best.Mint,
		UpstreamBaseRat: new(big.Rat).SetInt(new(big.Int).Abs(tx.BaseDelta)),
		RawTokenAmount:  new(big.Int).Abs(best.RawDelta),
		Decimals:        best.Decimals,
		Source:          tx.Source,
		UnsafeParse:     false,
	}
}

// approximatedDecimals is used when the transfer-list path cannot learn
// actual mint decimals from the payload.
const approximatedDecimals = 6

func parseTransferList(tx *RawTransaction, wallet string) *Descriptor {
	if tx.BaseDelta == nil || len(tx.TransferDeltas) == 0 {
		return nil
	}

	var candidates []BalanceDelta
	for _, td := range tx.TransferDeltas {
		if td.Owner != wallet {
			continue
		}
		if IsIntermediate(td.Mint) {
			continue
		}
		if td.UIDelta == 0 {
			continue
		}
		candidates = append(candidates, td)
	}
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if absFloat(c.UIDelta) > absFloat(best.UIDelta) {
			best = c
		}
	}

	var dir Direction
	switch {
	case tx.BaseDelta.Sign() > 0:
		dir = Sell
	case tx.BaseDelta.Sign() < 0:
		dir = Buy
	default:
		return nil
	}

	if dir == Buy && best.UIDelta <= 0 {
		return nil
	}
	if dir == Sell && best.UIDelta >= 0 {
		return nil
	}

	rawAmount := uiToRaw(absFloat(best.UIDelta), approximatedDecimals)

	return &Descriptor{
		Signature:       tx.Signature,
		Direction:       dir,
		TokenMint:       best.Mint,
		UpstreamBaseRat: new(big.Rat).SetInt(new(big.Int).Abs(tx.BaseDelta)),
		RawTokenAmount:  rawAmount,
		Decimals:        approximatedDecimals,
		Source:          tx.Source,
		UnsafeParse:     true,
	}
}

func absBigInt(n *big.Int) *big.Int {
	return new(big.Int).Abs(n)
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// uiToRaw reconstructs a raw integer amount from a floating UI amount and
// assumed decimals — approximate by construction, used only on the
// unsafe-parse path.
func uiToRaw(ui float64, decimals int) *big.Int {
	scale := new(big.Float).SetFloat64(pow10(decimals))
	f := new(big.Float).Mul(big.NewFloat(ui), scale)
	out, _ := f.Int(nil)
	return out
}

func pow10(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
