package store

import (
	"context"
	"fmt"
	"time"
)

// PipelineMetric is one row of the rolling per-trade observability record
// described by the pipeline metric invariants: every admitted swap produces
// exactly one row, win or lose.
type PipelineMetric struct {
	Signature      string
	Direction      string
	TokenMint      string
	Source         string
	Outcome        string
	RejectReason   string
	SellBufferMs   int64
	RiskLatencyMs  int64
	ExecLatencyMs  int64
	TotalLatencyMs int64
	PriceDriftPct  float64
	UnsafeParse    bool
	CorrelationID  string
	Timestamp      int64
}

// AppendMetric records one pipeline metric row.
func (d *DB) AppendMetric(ctx context.Context, m *PipelineMetric) error {
	unsafe := 0
	if m.UnsafeParse {
		unsafe = 1
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO trade_pipeline_metrics (
			signature, direction, token_mint, source, outcome, reject_reason,
			sell_buffer_ms, risk_latency_ms, exec_latency_ms, total_latency_ms,
			price_drift_pct, unsafe_parse, correlation_id, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Signature, m.Direction, m.TokenMint, m.Source, m.Outcome, m.RejectReason,
		m.SellBufferMs, m.RiskLatencyMs, m.ExecLatencyMs, m.TotalLatencyMs,
		m.PriceDriftPct, unsafe, m.CorrelationID, m.Timestamp)
	if err != nil {
		return fmt.Errorf("append metric: %w", err)
	}
	return nil
}

// PruneMetricsOlderThan deletes pipeline-metric rows older than age and
// returns how many were removed.
func (d *DB) PruneMetricsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).Unix()
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM trade_pipeline_metrics WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune metrics: %w", err)
	}
	return res.RowsAffected()
}

// RecentMetrics returns the most recent n pipeline metric rows, newest
// first, for the status view.
func (d *DB) RecentMetrics(ctx context.Context, n int) ([]*PipelineMetric, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT signature, direction, token_mint, source, outcome, reject_reason,
		       sell_buffer_ms, risk_latency_ms, exec_latency_ms, total_latency_ms,
		       price_drift_pct, unsafe_parse, correlation_id, timestamp
		FROM trade_pipeline_metrics ORDER BY timestamp DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("recent metrics: %w", err)
	}
	defer rows.Close()

	var out []*PipelineMetric
	for rows.Next() {
		m := &PipelineMetric{}
		var unsafe int
		if err := rows.Scan(&m.Signature, &m.Direction, &m.TokenMint, &m.Source, &m.Outcome,
			&m.RejectReason, &m.SellBufferMs, &m.RiskLatencyMs, &m.ExecLatencyMs,
			&m.TotalLatencyMs, &m.PriceDriftPct, &unsafe, &m.CorrelationID, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.UnsafeParse = unsafe == 1
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertSourceTrade records one observed upstream trade, independent of
// whether we chose to copy it.
func (d *DB) InsertSourceTrade(ctx context.Context, signature, source, direction, tokenMint string, timestamp int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO source_trades (signature, source, direction, token_mint, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, signature, source, direction, tokenMint, timestamp)
	if err != nil {
		return fmt.Errorf("insert source trade: %w", err)
	}
	return nil
}

// InsertPnLSnapshot records one periodic PnL snapshot from the scheduler.
func (d *DB) InsertPnLSnapshot(ctx context.Context, openPositions int, realizedLamports, unrealizedLamports int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO pnl_snapshots (taken_at, open_positions, realized_pnl_lamports, unrealized_pnl_lamports)
		VALUES (?, ?, ?, ?)
	`, Now(), openPositions, realizedLamports, unrealizedLamports)
	if err != nil {
		return fmt.Errorf("insert pnl snapshot: %w", err)
	}
	return nil
}

// InsertExecutionComparison records a live-vs-quoted divergence sample,
// written by the live executor's post-trade comparison task.
func (d *DB) InsertExecutionComparison(ctx context.Context, signature, quotedOut, realOut string, feeLamports uint64, computeUnits uint32, slippagePct float64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO execution_comparisons (signature, quoted_out, real_out, fee_lamports, compute_units, slippage_pct, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, signature, quotedOut, realOut, feeLamports, computeUnits, slippagePct, Now())
	if err != nil {
		return fmt.Errorf("insert execution comparison: %w", err)
	}
	return nil
}
