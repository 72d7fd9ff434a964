// Package aggregator talks to the off-chain swap-routing aggregator
// (Jupiter's Metis API): quote lookups and prebuilt signed-ready swap
// transactions, with HTTP/2 connection pooling and API-key rotation.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"

	"solana-copytrader/internal/solutil"
)

// MetisSwapURL is the Jupiter Metis API base path.
const MetisSwapURL = "https://api.jup.ag/swap/v1"

// PriorityLevel selects the aggregator's dynamic priority-fee tier.
type PriorityLevel string

const (
	PriorityMedium   PriorityLevel = "medium"
	PriorityHigh     PriorityLevel = "high"
	PriorityVeryHigh PriorityLevel = "veryHigh"
)

// Client talks to the aggregator with a pool of HTTP/2 clients and
// round-robin API key rotation.
type Client struct {
	baseURL       string
	slippageBps   int
	priorityLevel PriorityLevel
	maxLamports   uint64
	clientPool    *httpClientPool
	apiKeys       []string
	keyIdx        atomic.Uint32
}

func defaultAPIKeys() []string {
	if envKeys := os.Getenv("JUPITER_API_KEYS"); envKeys != "" {
		return strings.Split(envKeys, ",")
	}
	return []string{"public-key"}
}

type httpClientPool struct {
	clients []*http.Client
	mu      sync.Mutex
	idx     uint32
}

func newHTTPClientPool(size int, timeout time.Duration) *httpClientPool {
	pool := &httpClientPool{clients: make([]*http.Client, size)}
	for i := 0; i < size; i++ {
		transport := &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		http2.ConfigureTransport(transport)
		pool.clients[i] = &http.Client{Transport: transport, Timeout: timeout}
	}
	log.Info().Int("poolSize", size).Msg("aggregator HTTP/2 client pool initialized")
	return pool
}

func (p *httpClientPool) get() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.clients[p.idx%uint32(len(p.clients))]
	p.idx++
	return c
}

// NewClient creates an aggregator client with default (env-sourced) API keys.
func NewClient(slippageBps int, priorityLevel PriorityLevel, maxPriorityLamports uint64, timeout time.Duration) *Client {
	return NewClientWithKeys(slippageBps, priorityLevel, maxPriorityLamports, timeout, nil)
}

// NewClientWithKeys creates an aggregator client with explicit API keys.
func NewClientWithKeys(slippageBps int, priorityLevel PriorityLevel, maxPriorityLamports uint64, timeout time.Duration, apiKeys []string) *Client {
	if len(apiKeys) == 0 {
		apiKeys = defaultAPIKeys()
	}
	return &Client{
		baseURL:       MetisSwapURL,
		slippageBps:   slippageBps,
		priorityLevel: priorityLevel,
		maxLamports:   maxPriorityLamports,
		clientPool:    newHTTPClientPool(4, timeout),
		apiKeys:       apiKeys,
	}
}

func (c *Client) apiKey() string {
	idx := c.keyIdx.Add(1) % uint32(len(c.apiKeys))
	return c.apiKeys[idx]
}

// SetMaxPriorityFee overrides the priority-fee cap in lamports.
func (c *Client) SetMaxPriorityFee(lamports uint64) {
	c.maxLamports = lamports
}

// Quote is the aggregator's routing quote for one candidate swap.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       *big.Int
	OutAmount      *big.Int
	PriceImpactPct float64
	RoutePlan      []RouteStep
	raw            json.RawMessage // preserved verbatim to re-send to /swap
}

// RouteStep is one hop of the routing plan, kept for observability only.
type RouteStep struct {
	AmmKey     string
	Label      string
	InputMint  string
	OutputMint string
}

type quoteWire struct {
	InputMint      string          `json:"inputMint"`
	InAmount       string          `json:"inAmount"`
	OutputMint     string          `json:"outputMint"`
	OutAmount      string          `json:"outAmount"`
	PriceImpactPct string          `json:"priceImpactPct"`
	RoutePlan      []routeStepWire `json:"routePlan"`
}

type routeStepWire struct {
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
	} `json:"swapInfo"`
}

// GetQuote requests a routing quote for amountRaw units of inputMint,
// denominated however the chain represents that mint (lamports for the
// base asset, raw token units otherwise).
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amountRaw *big.Int) (*Quote, error) {
	start := time.Now()

	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%s&slippageBps=%d",
		c.baseURL, inputMint, outputMint, amountRaw.String(), c.slippageBps)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey())

	resp, err := c.clientPool.get().Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("quote failed (%d): %s", resp.StatusCode, string(body))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quote body: %w", err)
	}

	var wire quoteWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	inAmt, err := solutil.ParseRawAmount(wire.InAmount)
	if err != nil {
		return nil, fmt.Errorf("parse inAmount: %w", err)
	}
	outAmt, err := solutil.ParseRawAmount(wire.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("parse outAmount: %w", err)
	}

	var impact float64
	fmt.Sscanf(wire.PriceImpactPct, "%f", &impact)

	steps := make([]RouteStep, len(wire.RoutePlan))
	for i, s := range wire.RoutePlan {
		steps[i] = RouteStep{
			AmmKey: s.SwapInfo.AmmKey, Label: s.SwapInfo.Label,
			InputMint: s.SwapInfo.InputMint, OutputMint: s.SwapInfo.OutputMint,
		}
	}

	log.Debug().Dur("latency", time.Since(start)).Str("outAmount", wire.OutAmount).Msg("aggregator quote")

	return &Quote{
		InputMint: wire.InputMint, OutputMint: wire.OutputMint,
		InAmount: inAmt, OutAmount: outAmt, PriceImpactPct: impact * 100,
		RoutePlan: steps, raw: raw,
	}, nil
}

// SwapResult is the aggregator's prebuilt transaction response.
type SwapResult struct {
	SwapTransactionBase64     string
	LastValidBlockHeight      uint64
	PrioritizationFeeLamports uint64
}

// GetSwapTransaction builds an unsigned, aggregator-prepared transaction
// from a previously fetched quote. The quote is never re-fetched here —
// callers must pass the one used for the risk decision.
func (c *Client) GetSwapTransaction(ctx context.Context, quote *Quote, userPubkey string) (*SwapResult, error) {
	reqBody := struct {
		QuoteResponse             json.RawMessage        `json:"quoteResponse"`
		UserPublicKey             string                 `json:"userPublicKey"`
		WrapAndUnwrapSol          bool                   `json:"wrapAndUnwrapSol"`
		DynamicComputeUnitLimit   bool                   `json:"dynamicComputeUnitLimit"`
		SkipUserAccountsRpcCalls  bool                   `json:"skipUserAccountsRpcCalls"`
		PrioritizationFeeLamports map[string]interface{} `json:"prioritizationFeeLamports"`
	}{
		QuoteResponse:            quote.raw,
		UserPublicKey:            userPubkey,
		WrapAndUnwrapSol:         true,
		DynamicComputeUnitLimit:  true,
		SkipUserAccountsRpcCalls: true,
		PrioritizationFeeLamports: map[string]interface{}{
			"priorityLevelWithMaxLamports": map[string]interface{}{
				"priorityLevel": string(c.priorityLevel),
				"maxLamports":   c.maxLamports,
				"global":        false,
			},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey())

	resp, err := c.clientPool.get().Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("swap failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var swapResp struct {
		SwapTransaction           string `json:"swapTransaction"`
		LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
		PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&swapResp); err != nil {
		return nil, fmt.Errorf("decode swap response: %w", err)
	}

	return &SwapResult{
		SwapTransactionBase64:     swapResp.SwapTransaction,
		LastValidBlockHeight:      swapResp.LastValidBlockHeight,
		PrioritizationFeeLamports: swapResp.PrioritizationFeeLamports,
	}, nil
}
