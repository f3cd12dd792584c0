package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// Progress is an intermediate status report of a running task.
type Progress struct {
	Message string
	Index   int
	Total   int
}

// Notifier receives the outcome of a [Task]. Every field is optional.
//
// For each run exactly one of Result or Error is called, followed by
// Finished. Progress may be called any number of times before that. All
// callbacks are delivered on the task's [Foreground].
type Notifier[T any] struct {
	Finished func()
	Result   func(T)
	Error    func(error)
	Progress func(Progress)
}

// Func is the body of a task. ctx is cancelled when the task is interrupted;
// report forwards progress to the notifier.
type Func[T any] func(ctx context.Context, report func(Progress)) (T, error)

// Runnable is anything a [Runner] can execute.
type Runnable interface {
	Run()
}

// Task is a single-shot unit of background work with foreground
// notifications. It implements [Runnable].
type Task[T any] struct {
	fn     Func[T]
	notify Notifier[T]
	fg     *Foreground

	ctx    context.Context
	cancel context.CancelFunc

	started atomic.Bool
	done    chan struct{}
}

// New returns a task that runs fn and reports to n through fg. The task's
// context derives from ctx; [Task.Interrupt] cancels it. A nil fg delivers
// notifications on the goroutine that runs the task.
func New[T any](ctx context.Context, fg *Foreground, fn Func[T], n Notifier[T]) *Task[T] {
	tctx, cancel := context.WithCancel(ctx)
	return &Task[T]{
		fn:     fn,
		notify: n,
		fg:     fg,
		ctx:    tctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Interrupt asks the task to stop. Interruption is cooperative: fn observes
// it through its context.
func (t *Task[T]) Interrupt() { t.cancel() }

// Interrupted reports whether [Task.Interrupt] was called or the parent
// context ended.
func (t *Task[T]) Interrupted() bool { return t.ctx.Err() != nil }

// Started reports whether Run has been entered.
func (t *Task[T]) Started() bool { return t.started.Load() }

// Done is closed once fn has returned. Notifications may still be queued on
// the foreground at that point.
func (t *Task[T]) Done() <-chan struct{} { return t.done }

// Run executes the task body once. Further calls do nothing.
func (t *Task[T]) Run() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	defer t.cancel()

	val, err := t.call()
	close(t.done)

	if err != nil {
		if t.notify.Error != nil {
			t.deliver(func() { t.notify.Error(err) })
		}
	} else if t.notify.Result != nil {
		t.deliver(func() { t.notify.Result(val) })
	}
	if t.notify.Finished != nil {
		t.deliver(t.notify.Finished)
	}
}

func (t *Task[T]) call() (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task: panic in background task", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("task: panic: %v", r)
		}
	}()
	return t.fn(t.ctx, t.report)
}

func (t *Task[T]) report(p Progress) {
	if t.notify.Progress == nil {
		return
	}
	t.deliver(func() { t.notify.Progress(p) })
}

func (t *Task[T]) deliver(fn func()) {
	if t.fg == nil {
		fn()
		return
	}
	if !t.fg.Post(fn) {
		slog.Warn("task: foreground closed, notification dropped")
	}
}
