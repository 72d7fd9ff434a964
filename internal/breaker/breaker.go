// Package breaker implements the C9 Circuit Breaker: a sliding window of
// recent trade outcomes that opens trading when the fail rate, the
// NO_POSITION rejection count, or the P99 latency of copied trades
// crosses a configured threshold, per spec.md §4.9.
package breaker

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/config"
	"solana-copytrader/internal/pipeline"
)

// sample is one recorded outcome, timestamped for window pruning.
type sample struct {
	at         time.Time
	executed   bool
	success    bool
	noPosition bool
	latencyMs  int64
}

// Breaker tracks a sliding window of outcomes and reports whether trading
// should be paused. It implements both pipeline.Breaker (Record) and
// risk.BreakerStatus (IsOpen), the same two-interface split the teacher's
// RPC circuit breaker (failures/circuitOpen on internal/chain.Client)
// keeps between its recorder and its query side.
type Breaker struct {
	mu       sync.Mutex
	samples  []sample
	open     bool
	openedAt time.Time
	cfg      func() *config.Config
}

// New builds a breaker reading thresholds from cfg on every evaluation,
// so a config hot-reload takes effect on the next recorded outcome.
func New(cfg func() *config.Config) *Breaker {
	return &Breaker{cfg: cfg}
}

// Record appends one pipeline outcome and re-evaluates the open thresholds.
func (b *Breaker) Record(o pipeline.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := b.cfg().Breaker
	now := time.Now()
	b.samples = append(b.samples, sample{
		at: now, executed: o.Executed, success: o.Success,
		noPosition: o.NoPosition, latencyMs: o.LatencyMs,
	})
	b.prune(now, cfg.FailWindowMinutes)
	b.evaluate(cfg)
}

// IsOpen reports the current breaker state, auto-resetting on the next
// query once AutoResetMinutes has elapsed since it opened.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false
	}
	autoReset := b.cfg().Breaker.AutoResetMinutes
	if autoReset > 0 && time.Since(b.openedAt) >= time.Duration(autoReset)*time.Minute {
		log.Info().Msg("breaker: auto-reset interval elapsed, closing circuit")
		b.open = false
		b.samples = nil
		return false
	}
	return true
}

// Reset explicitly closes the circuit, discarding the current window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
	b.samples = nil
}

func (b *Breaker) prune(now time.Time, windowMinutes int) {
	if windowMinutes <= 0 {
		return
	}
	cutoff := now.Add(-time.Duration(windowMinutes) * time.Minute)
	kept := b.samples[:0]
	for _, s := range b.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	b.samples = kept
}

// evaluate checks the three opening thresholds against the current
// window. Opening is monotonic: evaluate only ever sets b.open to true,
// never clears it (that's IsOpen's auto-reset or an explicit Reset).
func (b *Breaker) evaluate(cfg config.BreakerConfig) {
	if b.open {
		return
	}

	var copiedLatencies []int64
	failed, attempted, noPosition := 0, 0, 0
	for _, s := range b.samples {
		if s.noPosition {
			noPosition++
			continue
		}
		if !s.executed {
			continue
		}
		attempted++
		if s.success {
			copiedLatencies = append(copiedLatencies, s.latencyMs)
		} else {
			failed++
		}
	}

	if attempted >= 3 && cfg.FailRatePct > 0 {
		failRate := float64(failed) / float64(attempted) * 100
		if failRate > cfg.FailRatePct {
			b.open = true
			b.openedAt = time.Now()
			log.Warn().Float64("fail_rate_pct", failRate).Msg("breaker: opened on fail rate")
			return
		}
	}

	if cfg.NoPositionSpike > 0 && noPosition >= cfg.NoPositionSpike {
		b.open = true
		b.openedAt = time.Now()
		log.Warn().Int("no_position_count", noPosition).Msg("breaker: opened on NO_POSITION spike")
		return
	}

	if len(copiedLatencies) >= 5 && cfg.LatencyP99Ms > 0 {
		p99 := p99Of(copiedLatencies)
		if p99 > cfg.LatencyP99Ms {
			b.open = true
			b.openedAt = time.Now()
			log.Warn().Int64("p99_ms", p99).Msg("breaker: opened on P99 latency")
			return
		}
	}
}

// p99Of returns the 99th-percentile value of a small, window-bounded
// sample set via sort.Slice; stdlib suffices at this scale, matching the
// cost/benefit the teacher's own hand-rolled percentile helper made.
func p99Of(latencies []int64) int64 {
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(math.Ceil(float64(len(sorted))*0.99)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
