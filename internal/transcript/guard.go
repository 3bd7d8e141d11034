package transcript

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrDegraded is reported by [Guard.Check] while the wrapped store is failing.
var ErrDegraded = errors.New("transcript: store degraded")

// Guard wraps a [Store] and makes all operations non-fatal. Entries that
// cannot be written are kept in an in-memory spill store, and reads that fail
// are answered from the spill instead, so recognition keeps running while a
// database restarts.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	spill    *MemoryStore
	log      *slog.Logger
	degraded atomic.Bool
}

var _ Store = (*Guard)(nil)

// NewGuard wraps store. A nil logger means slog.Default().
func NewGuard(store Store, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{store: store, spill: NewMemoryStore(), log: log}
}

// Write writes e to the wrapped store. On failure the error is logged, e is
// kept in the spill store and nil is returned.
func (g *Guard) Write(ctx context.Context, e Entry) error {
	if err := g.store.Write(ctx, e); err != nil {
		if !g.degraded.Swap(true) {
			g.log.Warn("transcript store failing, keeping entries in memory", "err", err)
		}
		return g.spill.Write(ctx, e)
	}
	if g.degraded.Swap(false) {
		g.log.Info("transcript store recovered", "spilled", g.spill.Len())
	}
	return nil
}

// Recent reads from the wrapped store, or from the spill store on failure.
func (g *Guard) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	entries, err := g.store.Recent(ctx, sessionID, limit)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("transcript store: recent failed, answering from memory", "session_id", sessionID, "err", err)
		return g.spill.Recent(ctx, sessionID, limit)
	}
	return entries, nil
}

// Search queries the wrapped store, or the spill store on failure.
func (g *Guard) Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error) {
	entries, err := g.store.Search(ctx, query, opts)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("transcript store: search failed, answering from memory", "query", query, "err", err)
		return g.spill.Search(ctx, query, opts)
	}
	return entries, nil
}

// Spilled returns the number of entries that only exist in memory.
func (g *Guard) Spilled() int { return g.spill.Len() }

// IsDegraded reports whether the most recent write or read failed.
func (g *Guard) IsDegraded() bool { return g.degraded.Load() }

// Check is a readiness probe. It runs the wrapped store's own probe if it has
// one and fails while degraded.
func (g *Guard) Check(ctx context.Context) error {
	if p, ok := g.store.(interface{ Check(context.Context) error }); ok {
		if err := p.Check(ctx); err != nil {
			return err
		}
	}
	if g.IsDegraded() {
		return ErrDegraded
	}
	return nil
}
