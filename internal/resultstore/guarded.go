package resultstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/phonemix/internal/observe"
	"github.com/MrWong99/phonemix/internal/resilience"
)

var _ Store = (*Guarded)(nil)

// Guarded layers a remote store over a local one. Reads go to the remote
// store through a circuit breaker and fall back to the local store when the
// remote is failing; writes always land locally and are mirrored remotely
// when the breaker allows it.
//
// A "not found" answer is a healthy response and never trips the breaker.
type Guarded struct {
	local    Store
	backends *resilience.Fallback[Store]
	remote   Store
	breaker  *resilience.Breaker
	metrics  *observe.Metrics
}

// NewGuarded returns a Guarded store. remote may be nil, in which case the
// local store serves everything.
func NewGuarded(remote, local Store, cfg resilience.BreakerConfig, m *observe.Metrics) *Guarded {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	g := &Guarded{
		local:    local,
		remote:   remote,
		backends: resilience.NewFallback[Store](cfg),
		metrics:  m,
	}
	if remote != nil {
		g.backends.Add("remote", remote)
		g.breaker = g.backends.Breaker("remote")
	}
	g.backends.Add("local", local)
	return g
}

// lookup carries a not-found answer through the breaker as a success.
type lookup struct {
	res   Result
	found bool
}

// Get implements [Store].
func (g *Guarded) Get(ctx context.Context, key Key) (Result, error) {
	l, err := resilience.Call(g.backends, func(s Store) (lookup, error) {
		res, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return lookup{}, nil
		}
		if err != nil {
			return lookup{}, err
		}
		return lookup{res: res, found: true}, nil
	})
	if err != nil {
		g.metrics.RecordStoreRequest(ctx, "get", "error")
		return nil, err
	}
	if !l.found && g.remote != nil {
		// Writes made while the remote was failing only exist locally.
		if res, err := g.local.Get(ctx, key); err == nil {
			l = lookup{res: res, found: true}
		}
	}
	if !l.found {
		g.metrics.RecordStoreRequest(ctx, "get", "miss")
		return nil, ErrNotFound
	}
	g.metrics.RecordStoreRequest(ctx, "get", "hit")
	return l.res, nil
}

// Put implements [Store]. A remote failure is logged and swallowed once the
// local write succeeded.
func (g *Guarded) Put(ctx context.Context, key Key, res Result) error {
	if err := g.local.Put(ctx, key, res); err != nil {
		g.metrics.RecordStoreRequest(ctx, "put", "error")
		return err
	}
	if g.remote != nil {
		err := g.breaker.Do(func() error { return g.remote.Put(ctx, key, res) })
		if err != nil {
			slog.Warn("resultstore: remote put failed, kept locally", "sentence", key.Sentence, "err", err)
			g.metrics.RecordStoreRequest(ctx, "put", "degraded")
			return nil
		}
	}
	g.metrics.RecordStoreRequest(ctx, "put", "ok")
	return nil
}

// RemoteState reports the remote breaker state, or [resilience.StateClosed]
// without a remote.
func (g *Guarded) RemoteState() resilience.State {
	if g.breaker == nil {
		return resilience.StateClosed
	}
	return g.breaker.State()
}
