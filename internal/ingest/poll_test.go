package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/swap"
)

func newTestRPCServer(t *testing.T, handle func(method string, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		handle(req.Method, w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func rpcResult(w http.ResponseWriter, result interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "result": result,
	})
}

func TestPollSource_AdvancesCursorAndDispatchesOldestFirst(t *testing.T) {
	var order []string
	sink := &fakeSinkOrdered{record: func(sig string) { order = append(order, sig) }}

	srv := newTestRPCServer(t, func(method string, w http.ResponseWriter) {
		switch method {
		case "getSignaturesForAddress":
			rpcResult(w, []chain.SignatureInfo{
				{Signature: "sig2"},
				{Signature: "sig1"},
			})
		case "getTransaction":
			rpcResult(w, map[string]interface{}{
				"slot": 1,
				"transaction": map[string]interface{}{
					"message": map[string]interface{}{
						"accountKeys": []map[string]interface{}{{"pubkey": "wallet1"}},
					},
				},
				"meta": map[string]interface{}{
					"preBalances":  []uint64{1000},
					"postBalances": []uint64{900},
				},
			})
		}
	})

	rpc := chain.NewClient(srv.URL, "", "")
	p := NewPollSource(rpc, "wallet1", sink, time.Hour)
	p.poll(context.Background())

	if p.lastSeen != "sig2" {
		t.Fatalf("expected cursor to advance to newest signature sig2, got %q", p.lastSeen)
	}
	if len(order) != 2 || order[0] != "sig1" || order[1] != "sig2" {
		t.Fatalf("expected dispatch oldest-first [sig1 sig2], got %v", order)
	}
}

type fakeSinkOrdered struct {
	record func(sig string)
}

func (f *fakeSinkOrdered) Submit(ctx context.Context, tx *swap.RawTransaction) {
	f.record(tx.Signature)
}
