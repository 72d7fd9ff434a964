// Package pipeline serializes every admitted swap descriptor through a
// single decision worker and buffers SELLs that race ahead of their BUY.
package pipeline

import "sync"

// PendingBuys tracks token mints whose BUY has been detected but not yet
// fully processed by the serializer, the visibility mechanism that lets a
// racing SELL wait instead of rejecting with NO_POSITION.
type PendingBuys struct {
	mu    sync.Mutex
	mints map[string]struct{}
}

// NewPendingBuys creates an empty registry.
func NewPendingBuys() *PendingBuys {
	return &PendingBuys{mints: make(map[string]struct{})}
}

// Add marks mint as having a BUY in flight.
func (p *PendingBuys) Add(mint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mints[mint] = struct{}{}
}

// Has reports whether mint currently has a BUY in flight.
func (p *PendingBuys) Has(mint string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.mints[mint]
	return ok
}

// Remove clears mint's pending-BUY flag.
func (p *PendingBuys) Remove(mint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.mints, mint)
}
