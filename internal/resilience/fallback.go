package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every backend of a [Fallback] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

type backend[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Fallback holds an ordered list of interchangeable backends, each guarded
// by its own [Breaker]. Backends must be added before concurrent use.
type Fallback[T any] struct {
	cfg      BreakerConfig
	backends []backend[T]
}

// NewFallback returns an empty Fallback whose breakers use cfg (the Name
// field is replaced by each backend's name).
func NewFallback[T any](cfg BreakerConfig) *Fallback[T] {
	return &Fallback[T]{cfg: cfg}
}

// Add appends a backend. Backends are tried in the order they were added.
func (f *Fallback[T]) Add(name string, value T) {
	cfg := f.cfg
	cfg.Name = name
	f.backends = append(f.backends, backend[T]{name: name, value: value, breaker: NewBreaker(cfg)})
}

// Breaker returns the breaker guarding the named backend, or nil.
func (f *Fallback[T]) Breaker(name string) *Breaker {
	for i := range f.backends {
		if f.backends[i].name == name {
			return f.backends[i].breaker
		}
	}
	return nil
}

// Call runs fn against each backend until one succeeds and returns its
// result. This is a function rather than a method because methods cannot
// declare type parameters.
func Call[T, R any](f *Fallback[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr = errors.New("no backends")
	)
	for i := range f.backends {
		b := &f.backends[i]
		var res R
		err := b.breaker.Do(func() error {
			var err error
			res, err = fn(b.value)
			return err
		})
		if err == nil {
			return res, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend, circuit open", "backend", b.name)
		} else {
			slog.Warn("resilience: backend failed, trying next", "backend", b.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
