// Package solutil holds small conversions shared across the chain, store,
// and risk packages so each doesn't reinvent base58/lamport handling.
package solutil

import (
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
)

// LamportsPerSOL is the number of base-asset minor units per whole unit.
const LamportsPerSOL = 1_000_000_000

// WrappedSOLMint is the canonical wrapped-native mint address.
const WrappedSOLMint = "So11111111111111111111111111111111111111112"

// EncodeBase58 encodes raw bytes as a base58 string.
func EncodeBase58(b []byte) string {
	return base58.Encode(b)
}

// DecodeBase58 decodes a base58 string to raw bytes.
func DecodeBase58(s string) ([]byte, error) {
	return base58.Decode(s)
}

// LamportsToSOL converts lamports to a float SOL amount for display only;
// never use this for ledger arithmetic.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}

// SOLToLamports converts a float SOL amount to lamports, rounding down.
func SOLToLamports(sol float64) uint64 {
	return uint64(sol * LamportsPerSOL)
}

// RawAmountToUI converts a raw integer token amount to its UI-scaled value
// as a big.Rat, given the token's decimals.
func RawAmountToUI(raw *big.Int, decimals int) *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(raw, scale)
}

// ParseRawAmount parses a decimal string (as returned by RPC "amount"
// fields) into a big.Int, returning zero on empty input.
func ParseRawAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid raw amount %q", s)
	}
	return n, nil
}

// BigIntToString renders a *big.Int for SQLite TEXT storage, treating nil
// as zero.
func BigIntToString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

// StringToBigInt parses a stored TEXT column back into a *big.Int.
func StringToBigInt(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid stored integer %q", s)
	}
	return n, nil
}

// Truncate shortens a string for log fields (addresses, signatures).
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
