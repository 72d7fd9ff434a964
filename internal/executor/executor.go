// Package executor implements the C7 Executor: it takes a Risk Engine
// EXECUTE decision and either submits it on-chain (LiveExecutor) or
// applies it to the virtual ledger (SimulatedExecutor), per spec.md §4.7.
package executor

import (
	"math/big"
	"time"

	"solana-copytrader/internal/config"
	"solana-copytrader/internal/solutil"
)

// baseTxFeeLamports and ataRentLamports mirror the risk engine's adaptive
// fee guard constants exactly, since the ESTIMATE sub-mode must reproduce
// the same number the guard already approved.
const (
	baseTxFeeLamports = 5000
	ataRentLamports   = 2_039_280
)

// estimateFeeLamports reproduces the risk engine's fee formula: base fee
// plus priority fee, plus one ATA rent-exemption when isNewToken.
func estimateFeeLamports(cfg config.TradingConfig, isNewToken bool) uint64 {
	fee := uint64(baseTxFeeLamports) + cfg.PriorityFeeLamports
	if isNewToken {
		fee += ataRentLamports
	}
	return fee
}

// todayKey returns the UTC calendar-day bucket used by the daily-spend
// ledger, matching the risk engine's own time.Now().UTC() bucketing.
func todayKey() string {
	return time.Now().UTC().Format("2006-01-02")
}

// lamportsAsFloat converts a raw lamport/token big.Int amount to a float64
// purely for the virtual trade log's human-readable sol_amount column;
// never used for any accounting decision.
func lamportsAsFloat(n *big.Int) float64 {
	f, _ := new(big.Float).SetInt(n).Float64()
	return f / solutil.LamportsPerSOL
}
