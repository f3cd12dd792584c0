// Package task runs work in the background and delivers its outcome on a
// single foreground goroutine.
//
// Three pieces cooperate:
//
//   - [Foreground] is the one goroutine that owns displays, audio devices
//     and editor state. Background code never touches those directly; it
//     posts callbacks instead.
//   - [Task] wraps a function with a [Notifier]. Its finished, result, error
//     and progress notifications are posted to the Foreground regardless of
//     which goroutine ran the function.
//   - [Runner] executes tasks on a bounded set of worker slots.
package task

import (
	"context"
	"log/slog"
	"sync"
)

// Foreground executes posted callbacks one at a time, in posting order, on
// the goroutine that calls [Foreground.Run].
type Foreground struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
}

// NewForeground returns an idle Foreground. Callbacks posted before Run is
// called are queued.
func NewForeground() *Foreground {
	return &Foreground{wake: make(chan struct{}, 1)}
}

// Post queues fn for execution on the foreground goroutine. It never blocks.
// Post reports false if the Foreground was closed and fn was dropped.
func (f *Foreground) Post(fn func()) bool {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	f.queue = append(f.queue, fn)
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes queued callbacks until ctx is cancelled or the Foreground is
// closed. After Close, Run drains everything posted before the close and
// returns nil. A cancelled ctx returns ctx.Err() and leaves the queue as is.
//
// A panicking callback is logged and does not stop the loop.
func (f *Foreground) Run(ctx context.Context) error {
	for {
		f.mu.Lock()
		batch := f.queue
		f.queue = nil
		closed := f.closed
		f.mu.Unlock()

		for _, fn := range batch {
			f.call(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.wake:
		}
	}
}

func (f *Foreground) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task: foreground callback panicked", "panic", r)
		}
	}()
	fn()
}

// Close stops accepting new callbacks. Run returns once the queue is empty.
// Close is idempotent.
func (f *Foreground) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
}
