package ingest

import (
	"errors"
	"math/big"

	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/swap"
)

var errInvalidAmount = errors.New("ingest: invalid raw token amount")

func bigFromInt64(v int64) *big.Int {
	return big.NewInt(v)
}

// tokenDeltasForWallet reduces a parsed transaction's pre/post token
// balance lists to one raw delta per mint owned by wallet.
func tokenDeltasForWallet(tx *chain.ParsedTransaction, wallet string) []swap.BalanceDelta {
	pre := make(map[string]*big.Int)  // mint -> raw amount before
	decimals := make(map[string]int)

	for _, b := range tx.PreTokenBalances {
		if b.Owner != wallet {
			continue
		}
		amt, err := parseAmount(b.Amount)
		if err != nil {
			continue
		}
		pre[b.Mint] = amt
		decimals[b.Mint] = b.Decimals
	}

	post := make(map[string]*big.Int)
	for _, b := range tx.PostTokenBalances {
		if b.Owner != wallet {
			continue
		}
		amt, err := parseAmount(b.Amount)
		if err != nil {
			continue
		}
		post[b.Mint] = amt
		decimals[b.Mint] = b.Decimals
	}

	mints := make(map[string]bool)
	for m := range pre {
		mints[m] = true
	}
	for m := range post {
		mints[m] = true
	}

	out := make([]swap.BalanceDelta, 0, len(mints))
	for mint := range mints {
		before := pre[mint]
		if before == nil {
			before = big.NewInt(0)
		}
		after := post[mint]
		if after == nil {
			after = big.NewInt(0)
		}
		delta := new(big.Int).Sub(after, before)
		out = append(out, swap.BalanceDelta{
			Mint:     mint,
			Owner:    wallet,
			Decimals: decimals[mint],
			RawDelta: delta,
		})
	}
	return out
}

func parseAmount(s string) (*big.Int, error) {
	n := new(big.Int)
	if _, ok := n.SetString(s, 10); !ok {
		return nil, errInvalidAmount
	}
	return n, nil
}
