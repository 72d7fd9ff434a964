package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/solutil"
	"solana-copytrader/internal/swap"
)

// PollSource periodically scans the wallet's recent signatures as the
// lowest-priority fallback producer, catching anything the push and
// subscription sources missed.
type PollSource struct {
	rpc      *chain.Client
	wallet   string
	sink     Sink
	interval time.Duration

	mu        sync.Mutex
	lastSeen  string // most recent signature already dispatched, used as the "until" cursor
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewPollSource creates a poll source querying every interval (spec
// default 5s).
func NewPollSource(rpc *chain.Client, wallet string, sink Sink, interval time.Duration) *PollSource {
	return &PollSource{
		rpc:      rpc,
		wallet:   wallet,
		sink:     sink,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start runs the polling loop until Stop is called.
func (p *PollSource) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *PollSource) poll(ctx context.Context) {
	p.mu.Lock()
	until := p.lastSeen
	p.mu.Unlock()

	sigs, err := p.rpc.GetSignaturesForAddress(ctx, p.wallet, 25, until)
	if err != nil {
		log.Warn().Err(err).Msg("poll source: failed to fetch signatures")
		return
	}
	if len(sigs) == 0 {
		return
	}

	// Results come newest-first; advance the cursor before dispatching so
	// a mid-loop failure never replays the same signature forever.
	p.mu.Lock()
	p.lastSeen = sigs[0].Signature
	p.mu.Unlock()

	for i := len(sigs) - 1; i >= 0; i-- {
		if sigs[i].Err != nil {
			continue
		}
		p.resolveAndSubmit(ctx, sigs[i].Signature)
	}
}

func (p *PollSource) resolveAndSubmit(ctx context.Context, signature string) {
	tx, err := p.rpc.GetParsedTransaction(ctx, signature)
	if err != nil {
		log.Warn().Err(err).Str("sig", solutil.Truncate(signature, 12)).Msg("poll source: failed to fetch parsed transaction")
		return
	}

	idx := tx.WalletIndex(p.wallet)
	if idx < 0 {
		return
	}

	p.sink.Submit(ctx, &swap.RawTransaction{
		Signature:   signature,
		Source:      swap.SourcePoll,
		BaseDelta:   bigFromInt64(tx.BaseDelta(idx)),
		TokenDeltas: tokenDeltasForWallet(tx, p.wallet),
	})
}

// Stop halts the polling loop.
func (p *PollSource) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}
