// Package preview builds, caches and plays combo previews.
//
// A [Manager] owns the preview cache. Building a preview decodes every
// phoneme of a combo and is the most expensive thing the editor does, so the
// manager admits one build at a time across the whole process. Requests
// queue for that slot in arrival order; each one carries a [Token] that
// [Manager.Cancel] and [Manager.CancelAll] use to release waiters promptly.
//
// Lock order is jobs before cache. The admission slot is never acquired
// while either lock is held.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/phonemix/internal/observe"
	"github.com/MrWong99/phonemix/internal/project"
	"github.com/MrWong99/phonemix/internal/task"
)

// ErrCancelled is returned to a requester whose token was cancelled before
// it could be handed a preview. The preview may still have been cached.
var ErrCancelled = errors.New("preview: request cancelled")

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics records cache and build metrics on m. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) {
		if m != nil {
			mgr.metrics = m
		}
	}
}

// Manager caches one Previewer per combo key and serialises their builds.
// All methods are safe for concurrent use.
type Manager struct {
	builder Builder
	admit   *semaphore.Weighted
	metrics *observe.Metrics

	jobsMu sync.RWMutex
	jobs   map[project.ComboKey]map[*Token]struct{}

	cacheMu sync.RWMutex
	cache   map[project.ComboKey]*Previewer
}

// NewManager returns an empty Manager building through b.
func NewManager(b Builder, opts ...Option) *Manager {
	m := &Manager{
		builder: b,
		admit:   semaphore.NewWeighted(1),
		metrics: observe.DefaultMetrics(),
		jobs:    make(map[project.ComboKey]map[*Token]struct{}),
		cache:   make(map[project.ComboKey]*Previewer),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetPreview returns the Previewer for combo, building it if needed. It may
// block for a long time and must not be called on the foreground.
//
// Concurrent callers for the same combo share a single build and receive
// the same instance. A caller whose token is cancelled, through ctx or
// through [Manager.Cancel], gets an error wrapping [ErrCancelled]; if its
// build had already finished the result stays cached for later callers.
func (m *Manager) GetPreview(ctx context.Context, combo *project.Combo) (*Previewer, error) {
	key := combo.Key
	if pv, ok := m.Cached(key); ok {
		m.metrics.PreviewCacheHits.Add(ctx, 1)
		return pv, nil
	}

	tok, pv := m.register(ctx, key)
	if pv != nil {
		m.metrics.PreviewCacheHits.Add(ctx, 1)
		return pv, nil
	}
	defer m.unregister(key, tok)
	m.metrics.PreviewCacheMisses.Add(ctx, 1)

	if err := m.admit.Acquire(tok.Context(), 1); err != nil {
		return nil, m.cancelled(ctx, key)
	}
	defer m.admit.Release(1)

	// Whoever held the slot before may have built this combo.
	if pv, ok := m.Cached(key); ok {
		if tok.Cancelled() {
			return nil, m.cancelled(ctx, key)
		}
		return pv, nil
	}
	if tok.Cancelled() {
		return nil, m.cancelled(ctx, key)
	}

	pv, err := m.build(tok.Context(), combo)
	if err != nil {
		if tok.Cancelled() {
			return nil, m.cancelled(ctx, key)
		}
		return nil, err
	}

	m.cacheMu.Lock()
	m.cache[key] = pv
	m.cacheMu.Unlock()

	if tok.Cancelled() {
		return nil, m.cancelled(ctx, key)
	}
	return pv, nil
}

// ComputePreviews builds the previews of combos in order on r.
//
// Once a request for some sentence is cancelled the remaining combos of that
// sentence are skipped. When the batch ends, onReady (if non-nil) receives
// the last preview obtained on the foreground; it is not called if none was.
// The returned task can be interrupted to abandon the rest of the batch.
func (m *Manager) ComputePreviews(ctx context.Context, r *task.Runner, combos []*project.Combo, onReady func(*Previewer)) (*task.Task[*Previewer], error) {
	combos = slices.Clone(combos)
	return task.Go(ctx, r,
		func(ctx context.Context, _ func(task.Progress)) (*Previewer, error) {
			skip := make(map[string]bool)
			var last *Previewer
			for _, c := range combos {
				if skip[c.Key.Sentence] {
					continue
				}
				pv, err := m.GetPreview(ctx, c)
				switch {
				case errors.Is(err, ErrCancelled):
					skip[c.Key.Sentence] = true
				case err != nil:
					slog.Warn("preview: build failed", "combo", c.Key, "err", err)
				default:
					last = pv
				}
			}
			return last, nil
		},
		task.Notifier[*Previewer]{
			Result: func(pv *Previewer) {
				if pv != nil && onReady != nil {
					onReady(pv)
				}
			},
		})
}

// Cancel cancels every outstanding request for a combo of sentence. Cached
// previews are kept. It returns the number of tokens cancelled.
func (m *Manager) Cancel(sentence string) int {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	n := 0
	for key, tokens := range m.jobs {
		if key.Sentence != sentence {
			continue
		}
		for tok := range tokens {
			tok.Cancel()
			n++
		}
		delete(m.jobs, key)
	}
	if n > 0 {
		slog.Debug("preview: cancelled requests", "sentence", sentence, "tokens", n)
	}
	return n
}

// CancelAll cancels every outstanding request.
func (m *Manager) CancelAll() int {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	n := 0
	for key, tokens := range m.jobs {
		for tok := range tokens {
			tok.Cancel()
			n++
		}
		delete(m.jobs, key)
	}
	return n
}

// Cached returns the cached Previewer for key without blocking.
func (m *Manager) Cached(key project.ComboKey) (*Previewer, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	pv, ok := m.cache[key]
	return pv, ok
}

// Len returns the number of cached previews.
func (m *Manager) Len() int {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	return len(m.cache)
}

// Outstanding returns the number of uncancelled requests waiting on key.
func (m *Manager) Outstanding(key project.ComboKey) int {
	m.jobsMu.RLock()
	defer m.jobsMu.RUnlock()
	return len(m.jobs[key])
}

// register files a new token for key, unless the cache already holds it.
func (m *Manager) register(ctx context.Context, key project.ComboKey) (*Token, *Previewer) {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()

	m.cacheMu.RLock()
	pv, ok := m.cache[key]
	m.cacheMu.RUnlock()
	if ok {
		return nil, pv
	}

	tok := NewToken(ctx)
	tokens, ok := m.jobs[key]
	if !ok {
		tokens = make(map[*Token]struct{})
		m.jobs[key] = tokens
	}
	tokens[tok] = struct{}{}
	return tok, nil
}

func (m *Manager) unregister(key project.ComboKey, tok *Token) {
	m.jobsMu.Lock()
	if tokens, ok := m.jobs[key]; ok {
		delete(tokens, tok)
		if len(tokens) == 0 {
			delete(m.jobs, key)
		}
	}
	m.jobsMu.Unlock()
	tok.Cancel()
}

func (m *Manager) cancelled(ctx context.Context, key project.ComboKey) error {
	m.metrics.PreviewCancellations.Add(ctx, 1)
	return fmt.Errorf("%w: %s", ErrCancelled, key)
}

func (m *Manager) build(ctx context.Context, combo *project.Combo) (*Previewer, error) {
	ctx, span := observe.StartSpan(ctx, "preview.build",
		trace.WithAttributes(
			attribute.String("combo", combo.Key.String()),
			attribute.Int("phonemes", len(combo.Phonemes)),
		))
	start := time.Now()
	pv, err := m.builder.Build(ctx, combo)
	if err == nil {
		elapsed := time.Since(start)
		m.metrics.RecordPreviewBuild(ctx, elapsed)
		observe.Logger(ctx).Debug("preview: built", "combo", combo.Key, "frames", pv.FrameCount(), "elapsed", elapsed)
	}
	observe.EndSpan(span, err)
	return pv, err
}
