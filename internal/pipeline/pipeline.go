package pipeline

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/store"
	"solana-copytrader/internal/swap"
)

// Decision is the Risk Engine's verdict on one descriptor: either an
// EXECUTE plan with a sized amount and pre-fetched quote, or a rejection
// carrying a stable reason tag.
type Decision struct {
	Execute       bool
	Reason        string // empty when Execute is true
	AmountRaw     *big.Int
	Quote         interface{} // the aggregator.Quote the Executor must reuse without re-fetching
	PriceDriftPct float64
	WaitMs        int64 // SELL's POSITION_NOT_CONFIRMED poll wait, if any
}

// RiskEngine evaluates one descriptor and returns EXECUTE or a reject
// reason, per spec.md §4.6.
type RiskEngine interface {
	EvaluateBuy(ctx context.Context, d *swap.Descriptor) (*Decision, error)
	EvaluateSell(ctx context.Context, d *swap.Descriptor) (*Decision, error)
}

// ExecResult is the Executor's outcome for one trade.
type ExecResult struct {
	Success      bool
	FailReason   string
	Signature    string
	RawAmountOut *big.Int
	LatencyMs    int64
}

// Executor submits a sized trade plan on-chain (or simulates one).
type Executor interface {
	ExecuteBuy(ctx context.Context, d *swap.Descriptor, dec *Decision) (*ExecResult, error)
	ExecuteSell(ctx context.Context, d *swap.Descriptor, dec *Decision) (*ExecResult, error)
}

// Outcome is one pipeline step's result, fed to the circuit breaker.
// Executed distinguishes a failed execution attempt (Executed && !Success)
// from a plain risk-engine rejection (!Executed && !Success), since both
// otherwise collapse to the same Success=false, NoPosition=false shape.
type Outcome struct {
	Executed   bool
	Success    bool
	NoPosition bool
	LatencyMs  int64
}

// Breaker observes outcomes and may open the circuit.
type Breaker interface {
	Record(o Outcome)
}

// MetricSink records the per-trade observability row (C1's metrics table).
type MetricSink interface {
	AppendMetric(ctx context.Context, m *store.PipelineMetric) error
}

const (
	sellBufferPoll = 500 * time.Millisecond
	sellBufferMax  = 4 * time.Second
)

type submission struct {
	tx     *swap.RawTransaction
	wallet string
}

// Pipeline is the single-writer FIFO serializer: one worker goroutine
// drains a buffered channel of submissions in arrival order, so every
// descriptor's risk decision and execution happen one at a time.
type Pipeline struct {
	store   *store.DB
	pending *PendingBuys
	risk    RiskEngine
	exec    Executor
	breaker Breaker
	metrics MetricSink
	wallet  string

	queue chan *submission
	stop  chan struct{}
}

// New creates a pipeline bound to wallet, ready to Start.
func New(db *store.DB, pending *PendingBuys, risk RiskEngine, exec Executor, breaker Breaker, metrics MetricSink, wallet string) *Pipeline {
	return &Pipeline{
		store:   db,
		pending: pending,
		risk:    risk,
		exec:    exec,
		breaker: breaker,
		metrics: metrics,
		wallet:  wallet,
		queue:   make(chan *submission, 256),
		stop:    make(chan struct{}),
	}
}

// Start runs the single worker loop until Stop is called.
func (p *Pipeline) Start() {
	go p.run()
}

// Stop halts the worker after it drains any submission already in flight.
func (p *Pipeline) Stop() {
	close(p.stop)
}

// Submit implements ingest.Sink: it registers a pending BUY immediately
// (so a racing SELL can see it), performs sell-before-buy buffering for
// SELLs, then hands the descriptor to the single-writer worker. Submit
// itself never blocks the caller beyond the buffering wait — the worker
// does the actual risk/execute work asynchronously.
func (p *Pipeline) Submit(ctx context.Context, tx *swap.RawTransaction) {
	d, err := swap.Parse(tx, p.wallet)
	if err != nil {
		return // not a recognizable swap, nothing to buffer or queue
	}

	var bufferMs int64
	if d.Direction == swap.Sell {
		bufferMs = p.bufferSellBeforeBuy(ctx, d.TokenMint)
	} else {
		p.pending.Add(d.TokenMint)
	}

	tx.SellBufferMs = bufferMs
	sub := &submission{tx: tx, wallet: p.wallet}

	select {
	case p.queue <- sub:
	case <-p.stop:
	}
}

// bufferSellBeforeBuy sleeps in 500ms increments up to 4s while a SELL's
// token has no recorded position and a BUY is marked pending for it,
// returning the milliseconds actually waited.
func (p *Pipeline) bufferSellBeforeBuy(ctx context.Context, mint string) int64 {
	start := time.Now()
	deadline := start.Add(sellBufferMax)

	for time.Now().Before(deadline) {
		pos, err := p.store.GetPosition(ctx, mint)
		if err != nil {
			log.Warn().Err(err).Str("mint", mint).Msg("pipeline: position lookup failed during sell buffer")
			break
		}
		if pos != nil {
			break
		}
		if !p.pending.Has(mint) {
			break
		}
		time.Sleep(sellBufferPoll)
	}
	return time.Since(start).Milliseconds()
}

func (p *Pipeline) run() {
	for {
		select {
		case <-p.stop:
			return
		case sub := <-p.queue:
			p.process(sub)
		}
	}
}

func (p *Pipeline) process(sub *submission) {
	ctx := context.Background()
	start := time.Now()

	d, err := swap.Parse(sub.tx, sub.wallet)
	if err != nil {
		return
	}

	defer func() {
		if d.Direction == swap.Buy {
			p.pending.Remove(d.TokenMint)
		}
	}()

	// (a) atomic check-and-insert into the idempotency ledger.
	isNew, err := p.store.InsertEventIfNew(ctx, d.Signature)
	if err != nil {
		log.Error().Err(err).Str("sig", d.Signature).Msg("pipeline: idempotency check failed")
		return
	}
	if !isNew {
		return
	}

	// (b) persist the swap record.
	if err := p.store.InsertSourceTrade(ctx, d.Signature, string(d.Source), string(d.Direction), d.TokenMint, start.Unix()); err != nil {
		log.Warn().Err(err).Str("sig", d.Signature).Msg("pipeline: failed to persist source trade")
	}

	// (c) invoke the Risk Engine.
	var dec *Decision
	if d.Direction == swap.Buy {
		dec, err = p.risk.EvaluateBuy(ctx, d)
	} else {
		dec, err = p.risk.EvaluateSell(ctx, d)
	}
	if err != nil {
		log.Error().Err(err).Str("sig", d.Signature).Msg("pipeline: risk engine error")
		return
	}

	outcome := Outcome{Executed: dec.Execute, Success: false, NoPosition: dec.Reason == "NO_POSITION"}
	metric := &store.PipelineMetric{
		Signature:     d.Signature,
		Direction:     string(d.Direction),
		TokenMint:     d.TokenMint,
		Source:        string(d.Source),
		UnsafeParse:   d.UnsafeParse,
		SellBufferMs:  sub.tx.SellBufferMs,
		CorrelationID: uuid.New().String(),
		Timestamp:     time.Now().Unix(),
	}

	// (d) if EXECUTE, invoke the Executor, update position and ledgers.
	if dec.Execute {
		execStart := time.Now()
		var res *ExecResult
		if d.Direction == swap.Buy {
			res, err = p.exec.ExecuteBuy(ctx, d, dec)
		} else {
			res, err = p.exec.ExecuteSell(ctx, d, dec)
		}
		metric.ExecLatencyMs = time.Since(execStart).Milliseconds()

		if err != nil || res == nil || !res.Success {
			metric.Outcome = "FAILED"
			if res != nil {
				metric.RejectReason = res.FailReason
			} else if err != nil {
				metric.RejectReason = err.Error()
			}
		} else {
			metric.Outcome = "EXECUTED"
			outcome.Success = true
		}
		metric.PriceDriftPct = dec.PriceDriftPct
	} else {
		metric.Outcome = "REJECTED"
		metric.RejectReason = dec.Reason
	}

	metric.RiskLatencyMs = time.Since(start).Milliseconds() - metric.ExecLatencyMs
	metric.TotalLatencyMs = time.Since(start).Milliseconds()
	outcome.LatencyMs = metric.TotalLatencyMs

	// (e) emit the Pipeline Metric.
	if err := p.metrics.AppendMetric(ctx, metric); err != nil {
		log.Warn().Err(err).Str("sig", d.Signature).Msg("pipeline: failed to append metric")
	}

	// (f) inform the Circuit Breaker.
	p.breaker.Record(outcome)
}
