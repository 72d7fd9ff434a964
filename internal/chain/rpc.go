// Package chain wraps Solana JSON-RPC access: request/response plumbing
// with primary/fallback failover, wallet signing, blockhash caching, and
// human-readable error translation.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Client handles Solana JSON-RPC 2.0 calls with primary/fallback failover
// and a simple consecutive-failure circuit breaker.
type Client struct {
	primaryURL  string
	fallbackURL string
	apiKey      string
	httpClient  *http.Client

	mu          sync.RWMutex
	failures    int
	lastFailure time.Time
	circuitOpen bool
}

// Request is the JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// Response is the JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// BlockhashResult is the result of getLatestBlockhash.
type BlockhashResult struct {
	Value struct {
		Blockhash            string `json:"blockhash"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
	} `json:"value"`
}

// BalanceResult is the result of getBalance.
type BalanceResult struct {
	Value uint64 `json:"value"`
}

// SendTxResult is the result of sendTransaction: the signature string.
type SendTxResult string

// NewClient creates an RPC client with pooled keep-alive connections.
func NewClient(primaryURL, fallbackURL, apiKey string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		primaryURL:  primaryURL,
		fallbackURL: fallbackURL,
		apiKey:      apiKey,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// GetLatestBlockhash fetches the latest confirmed blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (*BlockhashResult, error) {
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "getLatestBlockhash",
		Params: []interface{}{map[string]string{"commitment": "confirmed"}},
	}
	var result BlockhashResult
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance fetches the base-asset balance for a pubkey, in lamports.
func (c *Client) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "getBalance",
		Params: []interface{}{pubkey, map[string]string{"commitment": "confirmed"}},
	}
	var result BalanceResult
	if err := c.call(ctx, req, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// SendTransaction submits a base64-encoded signed transaction.
func (c *Client) SendTransaction(ctx context.Context, signedTx string, skipPreflight bool) (string, error) {
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "sendTransaction",
		Params: []interface{}{
			signedTx,
			map[string]interface{}{
				"encoding":            "base64",
				"skipPreflight":       skipPreflight,
				"preflightCommitment": "processed",
				"maxRetries":          3,
			},
		},
	}
	var result SendTxResult
	if err := c.call(ctx, req, &result); err != nil {
		return "", err
	}
	return string(result), nil
}

// SimulateResult is the relevant subset of simulateTransaction's response.
type SimulateResult struct {
	Err           interface{} `json:"err"`
	UnitsConsumed uint64      `json:"unitsConsumed"`
	Logs          []string    `json:"logs"`
}

// SimulateTransaction runs a base64-encoded transaction against
// simulateTransaction without submitting it, used by the executor's
// ACCURATE fee-estimation mode.
func (c *Client) SimulateTransaction(ctx context.Context, tx string) (*SimulateResult, error) {
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "simulateTransaction",
		Params: []interface{}{
			tx,
			map[string]interface{}{
				"encoding":               "base64",
				"sigVerify":              false,
				"replaceRecentBlockhash": true,
				"commitment":             "processed",
			},
		},
	}
	var result struct {
		Value SimulateResult `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return &result.Value, nil
}

// GetTokenAccountBalance fetches the raw amount and decimals of a single
// SPL token account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, tokenAccount string) (string, uint8, error) {
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "getTokenAccountBalance",
		Params: []interface{}{tokenAccount},
	}
	var result struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals uint8  `json:"decimals"`
		} `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return "", 0, err
	}
	return result.Value.Amount, result.Value.Decimals, nil
}

func (c *Client) call(ctx context.Context, req Request, result interface{}) error {
	if c.isCircuitOpen() {
		return c.callURL(ctx, c.fallbackURL, req, result)
	}

	err := c.callURL(ctx, c.primaryURL, req, result)
	if err != nil {
		c.recordFailure()
		log.Warn().Err(err).Msg("primary RPC failed, trying fallback")
		return c.callURL(ctx, c.fallbackURL, req, result)
	}

	c.recordSuccess()
	return nil
}

func (c *Client) callURL(ctx context.Context, url string, rpcReq Request, result interface{}) error {
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.circuitOpen {
		return false
	}
	return time.Since(c.lastFailure) <= 30*time.Second
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	c.lastFailure = time.Now()
	if c.failures >= 5 {
		c.circuitOpen = true
		log.Warn().Msg("RPC circuit breaker opened")
	}
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.circuitOpen = false
}

// LatencyMs round-trips a cheap call to estimate RPC latency for display.
func (c *Client) LatencyMs() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if _, err := c.GetLatestBlockhash(ctx); err != nil {
		return -1
	}
	return time.Since(start).Milliseconds()
}

// SignatureStatus is one entry from getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *uint64     `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// GetSignatureStatuses checks the confirmation state of signatures.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "getSignatureStatuses",
		Params: []interface{}{signatures, map[string]bool{"searchTransactionHistory": true}},
	}
	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// SignatureInfo is one entry from getSignaturesForAddress, used by the poll
// ingestion source.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
	BlockTime *int64      `json:"blockTime"`
}

// GetSignaturesForAddress returns up to limit recent signatures for
// address, optionally only those newer than `until`.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address string, limit int, until string) ([]SignatureInfo, error) {
	cfg := map[string]interface{}{"limit": limit}
	if until != "" {
		cfg["until"] = until
	}
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "getSignaturesForAddress",
		Params: []interface{}{address, cfg},
	}
	var result []SignatureInfo
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// TokenAccountInfo holds one SPL token account's ownership and balance.
type TokenAccountInfo struct {
	Address  string
	Mint     string
	Amount   string
	Decimals uint8
}

const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// GetTokenAccountsByOwner fetches token accounts for owner. If mint is
// non-empty, filters to that mint; otherwise queries both the legacy Token
// Program and Token-2022 and concatenates results.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner, mint string) ([]TokenAccountInfo, error) {
	if mint != "" {
		return c.fetchTokenAccounts(ctx, owner, map[string]string{"mint": mint})
	}

	accounts, err := c.fetchTokenAccounts(ctx, owner, map[string]string{"programId": TokenProgramID})
	if err != nil {
		return nil, err
	}
	accounts2022, err := c.fetchTokenAccounts(ctx, owner, map[string]string{"programId": Token2022ProgramID})
	if err != nil {
		return nil, fmt.Errorf("fetch token-2022 accounts: %w", err)
	}
	return append(accounts, accounts2022...), nil
}

func (c *Client) fetchTokenAccounts(ctx context.Context, owner string, filter map[string]string) ([]TokenAccountInfo, error) {
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "getTokenAccountsByOwner",
		Params: []interface{}{owner, filter, map[string]string{"encoding": "jsonParsed"}},
	}
	var result struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								Amount   string `json:"amount"`
								Decimals uint8  `json:"decimals"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}

	accounts := make([]TokenAccountInfo, 0, len(result.Value))
	for _, v := range result.Value {
		accounts = append(accounts, TokenAccountInfo{
			Address:  v.Pubkey,
			Mint:     v.Account.Data.Parsed.Info.Mint,
			Amount:   v.Account.Data.Parsed.Info.TokenAmount.Amount,
			Decimals: v.Account.Data.Parsed.Info.TokenAmount.Decimals,
		})
	}
	return accounts, nil
}

// MintAuthorityInfo reports the mint/freeze authority state used by the
// risk engine's optional token-safety check.
type MintAuthorityInfo struct {
	MintAuthoritySet   bool
	FreezeAuthoritySet bool
}

// GetMintAuthorities reads mint account data to check whether the mint or
// freeze authority is still set (a rug-pull risk signal).
func (c *Client) GetMintAuthorities(ctx context.Context, mint string) (*MintAuthorityInfo, error) {
	req := Request{
		JSONRPC: "2.0", ID: 1, Method: "getAccountInfo",
		Params: []interface{}{mint, map[string]string{"encoding": "jsonParsed"}},
	}
	var result struct {
		Value struct {
			Data struct {
				Parsed struct {
					Info struct {
						MintAuthority   interface{} `json:"mintAuthority"`
						FreezeAuthority interface{} `json:"freezeAuthority"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := c.call(ctx, req, &result); err != nil {
		return nil, err
	}
	return &MintAuthorityInfo{
		MintAuthoritySet:   result.Value.Data.Parsed.Info.MintAuthority != nil,
		FreezeAuthoritySet: result.Value.Data.Parsed.Info.FreezeAuthority != nil,
	}, nil
}
