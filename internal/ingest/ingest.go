// Package ingest runs the three redundant producers that feed raw upstream
// transaction records into the pipeline: push (webhook), subscription
// (live log stream), and poll (periodic signature scan).
package ingest

import (
	"context"

	"solana-copytrader/internal/swap"
)

// Sink receives raw transaction records admitted by any producer. The
// pipeline implements this; producers never know how descriptors are
// turned into trades.
type Sink interface {
	Submit(ctx context.Context, tx *swap.RawTransaction)
}

// EventProbe lets a producer check whether a signature was already
// processed, without marking it processed — the mark only happens once a
// submission reaches the pipeline's serializer stage.
type EventProbe interface {
	WasProcessed(ctx context.Context, signature string) (bool, error)
}
