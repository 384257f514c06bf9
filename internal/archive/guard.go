package archive

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

// ErrDegraded is reported by [Guard.Check] while the backend answers pings
// but the last read or write failed.
var ErrDegraded = errors.New("archive: last operation failed")

// Guard wraps a [Store] and makes every operation non-fatal: failures are
// logged, reads return empty results and the guard is marked degraded until
// the next successful operation.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

var _ Store = (*Guard)(nil)

// NewGuard wraps store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// RecordExchange writes e, swallowing any error.
func (g *Guard) RecordExchange(ctx context.Context, e Exchange) error {
	if err := g.store.RecordExchange(ctx, e); err != nil {
		g.degraded.Store(true)
		slog.Warn("archive guard: RecordExchange failed, swallowing error",
			"flow", e.Flow, "key", e.Key, "err", err)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// History reads from the store, returning an empty slice on failure.
func (g *Guard) History(ctx context.Context, flow Flow, key string, limit int) ([]Exchange, error) {
	out, err := g.store.History(ctx, flow, key, limit)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("archive guard: History failed, returning empty",
			"flow", flow, "key", key, "err", err)
		return []Exchange{}, nil
	}
	g.degraded.Store(false)
	return out, nil
}

// Ping reports the underlying store's health without swallowing it, so
// readiness probes see a broken archive.
func (g *Guard) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

func (g *Guard) Close() error { return g.store.Close() }

// IsDegraded reports whether the most recent operation failed.
func (g *Guard) IsDegraded() bool { return g.degraded.Load() }

// Check is the readiness probe for the archive: the backend must answer a
// ping and the most recent operation must have succeeded.
func (g *Guard) Check(ctx context.Context) error {
	if err := g.store.Ping(ctx); err != nil {
		return err
	}
	if g.IsDegraded() {
		return ErrDegraded
	}
	return nil
}
