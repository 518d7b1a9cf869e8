package handlers

import (
	"context"
	"sync"
	"time"
)

// SymbolRanker lists the most traded perpetual symbols.
type SymbolRanker interface {
	TopSymbols(ctx context.Context, n int) ([]string, error)
}

// Universe resolves the symbols scanned each cycle: a fixed list, or the
// top-N by quote volume refreshed once per ttl.
type Universe struct {
	ranker SymbolRanker
	fixed  []string
	top    int
	ttl    time.Duration

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
	now       func() time.Time
}

func NewUniverse(ranker SymbolRanker, fixed []string, top int) *Universe {
	return &Universe{
		ranker: ranker,
		fixed:  append([]string(nil), fixed...),
		top:    top,
		ttl:    time.Hour,
		now:    time.Now,
	}
}

func (u *Universe) SetClock(now func() time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.now = now
}

// Symbols returns the current universe. A failed ranking falls back to the
// last good one; without one the failure is returned.
func (u *Universe) Symbols(ctx context.Context) ([]string, error) {
	if u.top <= 0 {
		return append([]string(nil), u.fixed...), nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	now := u.now()
	if u.cached != nil && now.Sub(u.fetchedAt) < u.ttl {
		return append([]string(nil), u.cached...), nil
	}

	symbols, err := u.ranker.TopSymbols(ctx, u.top)
	if err != nil {
		if u.cached != nil {
			log.WithError(err).Warn("symbol ranking failed, keeping previous universe")
			return append([]string(nil), u.cached...), nil
		}
		return nil, err
	}
	u.cached = symbols
	u.fetchedAt = now
	log.WithField("symbols", len(symbols)).Info("symbol universe refreshed")
	return append([]string(nil), symbols...), nil
}

// withHeld appends symbols that still hold a position but dropped out of the
// universe, so their stops and ladders keep being managed.
func withHeld(symbols, held []string) []string {
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		seen[s] = true
	}
	for _, s := range held {
		if !seen[s] {
			symbols = append(symbols, s)
			seen[s] = true
		}
	}
	return symbols
}
