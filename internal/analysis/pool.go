// Package analysis schedules segment analyses on the background runner.
//
// A [Pool] holds at most one registered analysis task per segment.
// Registration and launch are separate steps so a caller can register a task
// early, which blocks duplicates, and launch it later once its preconditions
// hold (for example, once the source videos finished loading).
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/phonemix/internal/observe"
	"github.com/MrWong99/phonemix/internal/project"
	"github.com/MrWong99/phonemix/internal/task"
	"github.com/MrWong99/phonemix/pkg/engine"
)

var (
	// ErrDuplicateWorker is returned by [Pool.AddWorker] when the segment
	// already has a registered task.
	ErrDuplicateWorker = errors.New("analysis: duplicate worker")

	// ErrNoWorker is returned when the segment has no registered task.
	ErrNoWorker = errors.New("analysis: no such worker")

	// ErrWorkerRunning is returned by [Pool.Launch] for a task that was
	// already launched.
	ErrWorkerRunning = errors.New("analysis: worker already launched")
)

// Hooks receive the outcome of one analysis on the foreground. Every field
// is optional. Error receives an error wrapping [engine.ErrInterrupted] when
// the analysis was interrupted.
type Hooks struct {
	Finished func()
	Result   func([]*project.Combo)
	Error    func(error)
}

// Listener is told about segment state changes caused by the pool. It runs
// on the foreground.
type Listener func(seg *project.Segment, state project.State)

// Option configures a [Pool].
type Option func(*Pool)

// WithMetrics records analysis outcomes on m. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithContext sets the parent context of every analysis task. Cancelling it
// interrupts all of them.
func WithContext(ctx context.Context) Option {
	return func(p *Pool) {
		p.ctx = ctx
	}
}

type worker struct {
	task     *task.Task[[]*project.Combo]
	launched bool
}

// Pool maps segments to their single outstanding analysis task.
// All methods are safe for concurrent use.
type Pool struct {
	runner  *task.Runner
	metrics *observe.Metrics
	ctx     context.Context

	mu        sync.Mutex
	workers   map[*project.Segment]*worker
	listeners []Listener
}

// NewPool returns a Pool that runs analyses on r.
func NewPool(r *task.Runner, opts ...Option) *Pool {
	p := &Pool{
		runner:  r,
		metrics: observe.DefaultMetrics(),
		ctx:     context.Background(),
		workers: make(map[*project.Segment]*worker),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnStateChange registers l.
func (p *Pool) OnStateChange(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// AddWorker registers an analysis task for seg without starting it.
//
// The task deregisters itself in its completion hook, which runs on the
// foreground after the analysis returned. Until then another AddWorker for
// seg fails with [ErrDuplicateWorker].
func (p *Pool) AddWorker(seg *project.Segment, hooks Hooks) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.workers[seg]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateWorker, seg.Sentence())
	}

	w := &worker{}
	w.task = task.New(p.ctx, p.runner.Foreground(),
		func(ctx context.Context, _ func(task.Progress)) ([]*project.Combo, error) {
			return p.analyze(ctx, seg)
		},
		task.Notifier[[]*project.Combo]{
			Result: hooks.Result,
			Error:  hooks.Error,
			Finished: func() {
				p.remove(seg, w)
				if hooks.Finished != nil {
					hooks.Finished()
				}
				p.emit(seg, seg.State())
			},
		})
	p.workers[seg] = w
	return nil
}

// Launch submits the task registered for seg to the runner.
func (p *Pool) Launch(seg *project.Segment) error {
	p.mu.Lock()
	w, ok := p.workers[seg]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNoWorker, seg.Sentence())
	}
	if w.launched {
		p.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrWorkerRunning, seg.Sentence())
	}
	w.launched = true
	p.mu.Unlock()

	if err := p.runner.Submit(w.task); err != nil {
		p.remove(seg, w)
		return fmt.Errorf("analysis: launch %q: %w", seg.Sentence(), err)
	}
	return nil
}

// Discard drops a registered task that was never launched. Its hooks are
// not called.
func (p *Pool) Discard(seg *project.Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[seg]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoWorker, seg.Sentence())
	}
	if w.launched {
		return fmt.Errorf("%w: %q", ErrWorkerRunning, seg.Sentence())
	}
	w.task.Interrupt()
	delete(p.workers, seg)
	return nil
}

// Interrupt asks the task registered for seg to stop. The task still
// completes and deregisters through its hooks.
func (p *Pool) Interrupt(seg *project.Segment) error {
	p.mu.Lock()
	w, ok := p.workers[seg]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoWorker, seg.Sentence())
	}
	w.task.Interrupt()
	return nil
}

// InterruptAll interrupts every registered task.
func (p *Pool) InterruptAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.task.Interrupt()
	}
}

// Has reports whether seg has a registered task.
func (p *Pool) Has(seg *project.Segment) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.workers[seg]
	return ok
}

// Launched reports whether seg has a registered task that was launched.
func (p *Pool) Launched(seg *project.Segment) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[seg]
	return ok && w.launched
}

// Len returns the number of registered tasks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

func (p *Pool) remove(seg *project.Segment, w *worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers[seg] == w {
		delete(p.workers, seg)
	}
}

func (p *Pool) emit(seg *project.Segment, state project.State) {
	p.mu.Lock()
	listeners := p.listeners
	p.mu.Unlock()
	for _, l := range listeners {
		l(seg, state)
	}
}

// analyze runs on a runner goroutine.
func (p *Pool) analyze(ctx context.Context, seg *project.Segment) ([]*project.Combo, error) {
	sentence := seg.Sentence()
	ctx, span := observe.StartSpan(ctx, "analysis.analyze",
		trace.WithAttributes(attribute.String("sentence", sentence)))

	if fg := p.runner.Foreground(); fg != nil {
		fg.Post(func() { p.emit(seg, project.StateAnalyzing) })
	} else {
		p.emit(seg, project.StateAnalyzing)
	}

	start := time.Now()
	combos, err := seg.Analyze(ctx)
	elapsed := time.Since(start)

	log := observe.Logger(ctx).With("sentence", sentence, "elapsed", elapsed)
	switch {
	case err == nil:
		p.metrics.RecordAnalysis(ctx, observe.OutcomeAnalyzed, elapsed)
		span.SetAttributes(attribute.Int("combos", len(combos)))
		log.Debug("analysis: finished", "combos", len(combos))
		observe.EndSpan(span, nil)
	case errors.Is(err, engine.ErrInterrupted):
		p.metrics.RecordAnalysis(ctx, observe.OutcomeInterrupted, elapsed)
		log.Debug("analysis: interrupted")
		observe.EndSpan(span, nil)
	default:
		p.metrics.RecordAnalysis(ctx, observe.OutcomeFailed, elapsed)
		log.Warn("analysis: failed", "err", err)
		observe.EndSpan(span, err)
	}
	return combos, err
}
