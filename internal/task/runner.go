package task

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/phonemix/internal/observe"
)

// ErrRunnerClosed is returned by [Runner.Submit] after [Runner.Close].
var ErrRunnerClosed = errors.New("task: runner closed")

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithRunnerMetrics tracks active tasks on m. Default: [observe.DefaultMetrics].
func WithRunnerMetrics(m *observe.Metrics) RunnerOption {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Runner executes [Runnable] values on at most n concurrent goroutines.
// Submitted work beyond that waits for a free slot in submission order.
type Runner struct {
	fg      *Foreground
	slots   *semaphore.Weighted
	metrics *observe.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner returns a Runner with workers slots whose tasks notify through
// fg. workers below 1 is treated as 1.
func NewRunner(fg *Foreground, workers int, opts ...RunnerOption) *Runner {
	if workers < 1 {
		workers = 1
	}
	r := &Runner{
		fg:      fg,
		slots:   semaphore.NewWeighted(int64(workers)),
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Foreground returns the foreground tasks created for this runner should
// notify through.
func (r *Runner) Foreground() *Foreground { return r.fg }

// Submit schedules t and returns immediately.
func (r *Runner) Submit(t Runnable) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		ctx := context.Background()
		// Acquire on a background context cannot fail.
		_ = r.slots.Acquire(ctx, 1)
		defer r.slots.Release(1)

		r.metrics.ActiveTasks.Add(ctx, 1)
		defer r.metrics.ActiveTasks.Add(ctx, -1)
		t.Run()
	}()
	return nil
}

// Close rejects further submissions. Already submitted tasks still run.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Wait blocks until every submitted task has returned or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Go creates a task for fn on r's foreground and submits it.
func Go[T any](ctx context.Context, r *Runner, fn Func[T], n Notifier[T]) (*Task[T], error) {
	t := New(ctx, r.fg, fn, n)
	if err := r.Submit(t); err != nil {
		return nil, err
	}
	return t, nil
}
