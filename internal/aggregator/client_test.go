package aggregator

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, respond roundTripperFunc) *Client {
	t.Helper()
	c := NewClientWithKeys(500, PriorityVeryHigh, 1_250_000, 2*time.Second, []string{"test-key"})
	for _, hc := range c.clientPool.clients {
		hc.Transport = respond
	}
	return c
}

func jsonResp(v interface{}) *http.Response {
	b, _ := json.Marshal(v)
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(b))), Header: make(http.Header)}
}

func TestGetQuote_ParsesRawAmounts(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResp(quoteWire{
			InputMint: "So11111111111111111111111111111111111111112",
			InAmount:  "1000000000",
			OutputMint: "TokenMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
			OutAmount:  "42000000",
			PriceImpactPct: "0.015",
		}), nil
	})

	q, err := c.GetQuote(context.Background(), "So11111111111111111111111111111111111111112", "TokenMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", big.NewInt(1_000_000_000))
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if q.InAmount.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Errorf("InAmount = %s, want 1000000000", q.InAmount)
	}
	if q.OutAmount.Cmp(big.NewInt(42_000_000)) != 0 {
		t.Errorf("OutAmount = %s, want 42000000", q.OutAmount)
	}
	if q.PriceImpactPct < 1.4 || q.PriceImpactPct > 1.6 {
		t.Errorf("PriceImpactPct = %v, want ~1.5", q.PriceImpactPct)
	}
}

func TestGetQuote_NonOKStatusReturnsError(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTooManyRequests, Body: io.NopCloser(strings.NewReader("rate limited")), Header: make(http.Header)}, nil
	})

	_, err := c.GetQuote(context.Background(), "in", "out", big.NewInt(1))
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestGetSwapTransaction_UsesPassedQuoteVerbatim(t *testing.T) {
	var capturedBody map[string]interface{}
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		json.Unmarshal(body, &capturedBody)
		return jsonResp(struct {
			SwapTransaction           string `json:"swapTransaction"`
			LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
			PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
		}{SwapTransaction: "deadbeef", LastValidBlockHeight: 100, PrioritizationFeeLamports: 5000}), nil
	})

	quote := &Quote{InAmount: big.NewInt(1), OutAmount: big.NewInt(2), raw: json.RawMessage(`{"inputMint":"in"}`)}
	res, err := c.GetSwapTransaction(context.Background(), quote, "UserPubkey111111111111111111111111111111")
	if err != nil {
		t.Fatalf("GetSwapTransaction: %v", err)
	}
	if res.SwapTransactionBase64 != "deadbeef" || res.LastValidBlockHeight != 100 {
		t.Fatalf("unexpected swap result: %+v", res)
	}
	if capturedBody["userPublicKey"] != "UserPubkey111111111111111111111111111111" {
		t.Fatalf("expected userPublicKey to be forwarded, got %v", capturedBody["userPublicKey"])
	}
	quoteResp, ok := capturedBody["quoteResponse"].(map[string]interface{})
	if !ok || len(quoteResp) != 1 || quoteResp["inputMint"] != "in" {
		t.Fatalf("expected the quote's raw JSON to be forwarded verbatim, got %v", capturedBody["quoteResponse"])
	}
}
