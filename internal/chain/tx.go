package chain

import (
	"context"
	"fmt"
)

// ParsedTransaction is the subset of getParsedTransaction's payload the
// swap parser's pre/post-balance path needs: base-asset balance deltas and
// per-owner token balance deltas.
type ParsedTransaction struct {
	Signature            string
	Slot                 uint64
	AccountKeys          []string
	PreBalances          []uint64
	PostBalances         []uint64
	PreTokenBalances     []ParsedTokenBalance
	PostTokenBalances    []ParsedTokenBalance
	LogMessages          []string
	Fee                  uint64
	ComputeUnitsConsumed uint64
}

// ParsedTokenBalance is one entry of pre/postTokenBalances.
type ParsedTokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Decimals     int
	Amount       string // raw amount as a decimal string
}

// GetParsedTransaction fetches a confirmed transaction with jsonParsed
// encoding and pre/post token balances included, used to compute path-2
// balance deltas for the swap parser.
func (c *Client) GetParsedTransaction(ctx context.Context, signature string) (*ParsedTransaction, error) {
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "getTransaction",
		Params: []interface{}{
			signature,
			map[string]interface{}{
				"encoding":                       "jsonParsed",
				"commitment":                     "confirmed",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	var result struct {
		Slot      uint64 `json:"slot"`
		Transaction struct {
			Message struct {
				AccountKeys []struct {
					Pubkey string `json:"pubkey"`
				} `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
		Meta struct {
			PreBalances          []uint64          `json:"preBalances"`
			PostBalances         []uint64          `json:"postBalances"`
			PreTokenBalances     []rawTokenBalance `json:"preTokenBalances"`
			PostTokenBalances    []rawTokenBalance `json:"postTokenBalances"`
			LogMessages          []string          `json:"logMessages"`
			Fee                  uint64            `json:"fee"`
			ComputeUnitsConsumed uint64            `json:"computeUnitsConsumed"`
		} `json:"meta"`
	}

	if err := c.call(ctx, req, &result); err != nil {
		return nil, fmt.Errorf("get parsed transaction: %w", err)
	}

	keys := make([]string, len(result.Transaction.Message.AccountKeys))
	for i, k := range result.Transaction.Message.AccountKeys {
		keys[i] = k.Pubkey
	}

	return &ParsedTransaction{
		Signature:            signature,
		Slot:                 result.Slot,
		AccountKeys:          keys,
		PreBalances:          result.Meta.PreBalances,
		PostBalances:         result.Meta.PostBalances,
		PreTokenBalances:     toParsedTokenBalances(result.Meta.PreTokenBalances),
		PostTokenBalances:    toParsedTokenBalances(result.Meta.PostTokenBalances),
		LogMessages:          result.Meta.LogMessages,
		Fee:                  result.Meta.Fee,
		ComputeUnitsConsumed: result.Meta.ComputeUnitsConsumed,
	}, nil
}

type rawTokenBalance struct {
	AccountIndex int    `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

func toParsedTokenBalances(raw []rawTokenBalance) []ParsedTokenBalance {
	out := make([]ParsedTokenBalance, len(raw))
	for i, r := range raw {
		out[i] = ParsedTokenBalance{
			AccountIndex: r.AccountIndex,
			Mint:         r.Mint,
			Owner:        r.Owner,
			Decimals:     r.UITokenAmount.Decimals,
			Amount:       r.UITokenAmount.Amount,
		}
	}
	return out
}

// WalletIndex returns the account index of address within accountKeys, or
// -1 if absent — used to read the wallet's own pre/post base balance.
func (pt *ParsedTransaction) WalletIndex(address string) int {
	for i, k := range pt.AccountKeys {
		if k == address {
			return i
		}
	}
	return -1
}

// BaseDelta returns the signed lamport delta for the wallet at the given
// account index.
func (pt *ParsedTransaction) BaseDelta(idx int) int64 {
	if idx < 0 || idx >= len(pt.PreBalances) || idx >= len(pt.PostBalances) {
		return 0
	}
	return int64(pt.PostBalances[idx]) - int64(pt.PreBalances[idx])
}
