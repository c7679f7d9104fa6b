package usecase

import "sync/atomic"

// RequestGuard hands out monotonically increasing request ids. Only the most
// recently issued id is current; results of older requests must be discarded.
type RequestGuard struct {
	latest atomic.Uint64
}

// Next issues a new id and makes it current
func (g *RequestGuard) Next() uint64 {
	return g.latest.Add(1)
}

// IsCurrent reports whether id is still the latest issued id
func (g *RequestGuard) IsCurrent(id uint64) bool {
	return g.latest.Load() == id
}

// Invalidate makes every previously issued id stale
func (g *RequestGuard) Invalidate() {
	g.latest.Add(1)
}
