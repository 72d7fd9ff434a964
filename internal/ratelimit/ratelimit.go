// Package ratelimit provides a fixed-window request counter for the push
// ingestion source.
package ratelimit

import (
	"sync"
	"time"
)

// FixedWindow counts events in a rolling wall-clock window, resetting the
// counter when the window elapses.
type FixedWindow struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	count     int
	windowEnd time.Time
}

// NewFixedWindow creates a limiter allowing up to limit events per window.
func NewFixedWindow(limit int, window time.Duration) *FixedWindow {
	return &FixedWindow{limit: limit, window: window}
}

// Allow reports whether one more event fits within the current window,
// incrementing the counter if so.
func (f *FixedWindow) Allow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if now.After(f.windowEnd) {
		f.count = 0
		f.windowEnd = now.Add(f.window)
	}

	if f.count >= f.limit {
		return false
	}
	f.count++
	return true
}
