package ingest

import (
	"math/big"
	"testing"

	"solana-copytrader/internal/chain"
)

func TestTokenDeltasForWallet_ComputesPerMintDelta(t *testing.T) {
	tx := &chain.ParsedTransaction{
		PreTokenBalances: []chain.ParsedTokenBalance{
			{Mint: "MintA", Owner: "wallet1", Decimals: 6, Amount: "1000000"},
		},
		PostTokenBalances: []chain.ParsedTokenBalance{
			{Mint: "MintA", Owner: "wallet1", Decimals: 6, Amount: "1500000"},
			{Mint: "MintB", Owner: "wallet1", Decimals: 9, Amount: "200000000"},
		},
	}

	deltas := tokenDeltasForWallet(tx, "wallet1")
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(deltas))
	}

	byMint := make(map[string]*big.Int)
	for _, d := range deltas {
		byMint[d.Mint] = d.RawDelta
	}
	if byMint["MintA"].Cmp(big.NewInt(500000)) != 0 {
		t.Errorf("MintA delta = %s, want 500000", byMint["MintA"])
	}
	if byMint["MintB"].Cmp(big.NewInt(200000000)) != 0 {
		t.Errorf("MintB delta = %s, want 200000000", byMint["MintB"])
	}
}

func TestTokenDeltasForWallet_IgnoresOtherOwners(t *testing.T) {
	tx := &chain.ParsedTransaction{
		PreTokenBalances: []chain.ParsedTokenBalance{
			{Mint: "MintA", Owner: "someoneElse", Decimals: 6, Amount: "1000000"},
		},
		PostTokenBalances: []chain.ParsedTokenBalance{
			{Mint: "MintA", Owner: "someoneElse", Decimals: 6, Amount: "2000000"},
		},
	}
	deltas := tokenDeltasForWallet(tx, "wallet1")
	if len(deltas) != 0 {
		t.Fatalf("expected 0 deltas for unrelated owner, got %d", len(deltas))
	}
}

func TestBaseDelta_ComputesSignedLamportChange(t *testing.T) {
	tx := &chain.ParsedTransaction{
		AccountKeys:  []string{"wallet1", "other"},
		PreBalances:  []uint64{5_000_000_000},
		PostBalances: []uint64{4_000_000_000},
	}
	idx := tx.WalletIndex("wallet1")
	if idx != 0 {
		t.Fatalf("expected index 0, got %d", idx)
	}
	if tx.BaseDelta(idx) != -1_000_000_000 {
		t.Fatalf("expected -1000000000, got %d", tx.BaseDelta(idx))
	}
}
