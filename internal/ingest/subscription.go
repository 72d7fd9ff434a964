package ingest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/solutil"
	"solana-copytrader/internal/swap"
)

// SubscriptionSource monitors the target wallet's transaction logs over a
// live pubsub connection, fetching and submitting the parsed transaction
// for each signature it mentions.
type SubscriptionSource struct {
	ws     *wsClient
	rpc    *chain.Client
	wallet string
	sink   Sink

	mu    sync.Mutex
	subID uint64
	seen  map[string]bool // signatures already dispatched this connection, de-dupes duplicate log notifications
}

// NewSubscriptionSource dials wsURL and prepares (but does not yet start)
// monitoring for wallet's transactions.
func NewSubscriptionSource(wsURL string, rpc *chain.Client, wallet string, sink Sink) (*SubscriptionSource, error) {
	ws, err := newWSClient(wsURL)
	if err != nil {
		return nil, err
	}
	return &SubscriptionSource{
		ws:     ws,
		rpc:    rpc,
		wallet: wallet,
		sink:   sink,
		seen:   make(map[string]bool),
	}, nil
}

// Start subscribes to the wallet's logs. Each notification triggers a
// fetch of the full parsed transaction and a submission to the sink.
func (s *SubscriptionSource) Start() error {
	subID, err := s.ws.logsSubscribe(s.wallet, s.handleLogNotification)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.subID = subID
	s.mu.Unlock()
	log.Info().Str("wallet", solutil.Truncate(s.wallet, 8)).Uint64("subID", subID).Msg("subscribed to wallet logs")
	return nil
}

type logsNotification struct {
	Value struct {
		Signature string      `json:"signature"`
		Err       interface{} `json:"err"`
		Logs      []string    `json:"logs"`
	} `json:"value"`
}

func (s *SubscriptionSource) handleLogNotification(data json.RawMessage) {
	var notif logsNotification
	if err := json.Unmarshal(data, &notif); err != nil {
		log.Warn().Err(err).Msg("failed to parse logs notification")
		return
	}
	if notif.Value.Err != nil {
		return // failed transactions never produced a balance-changing swap
	}

	sig := notif.Value.Signature
	if !s.markSeen(sig) {
		return
	}
	go s.resolveAndSubmit(sig)
}

// markSeen reports whether signature is newly observed this connection,
// recording it if so.
func (s *SubscriptionSource) markSeen(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[sig] {
		return false
	}
	s.seen[sig] = true
	return true
}

func (s *SubscriptionSource) resolveAndSubmit(signature string) {
	ctx := context.Background()
	tx, err := s.rpc.GetParsedTransaction(ctx, signature)
	if err != nil {
		log.Warn().Err(err).Str("sig", solutil.Truncate(signature, 12)).Msg("subscription: failed to fetch parsed transaction")
		return
	}

	idx := tx.WalletIndex(s.wallet)
	if idx < 0 {
		return
	}

	raw := &swap.RawTransaction{
		Signature:   signature,
		Source:      swap.SourceSubscription,
		BaseDelta:   bigFromInt64(tx.BaseDelta(idx)),
		TokenDeltas: tokenDeltasForWallet(tx, s.wallet),
	}
	s.sink.Submit(ctx, raw)
}

// Stop unsubscribes and closes the underlying websocket connection.
func (s *SubscriptionSource) Stop() {
	s.mu.Lock()
	subID := s.subID
	s.mu.Unlock()
	if subID != 0 {
		s.ws.unsubscribe("logsUnsubscribe", subID)
	}
	s.ws.Close()
}
