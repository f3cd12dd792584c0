// Package resilience guards calls to external dependencies (the analysis
// result database) so that an unhealthy backend degrades the editor to
// in-memory behaviour instead of stalling every analysis.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open).
// [Fallback] tries an ordered list of backends, each behind its own breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 3.
	HalfOpenMax int
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	successes int
}

// NewBreaker creates a [Breaker]. Zero-value config fields get defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          time.Now,
	}
}

// Do runs fn unless the breaker is open. While half-open at most
// HalfOpenMax probes are in flight; any probe failure re-opens the breaker.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.successes = 0, 0
		slog.Info("resilience: breaker half-open", "name", b.name)
	}
	probe := b.state == StateHalfOpen
	if probe {
		if b.probes >= b.halfOpenMax {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err != nil && probe:
		b.trip()
		slog.Warn("resilience: probe failed, breaker re-opened", "name", b.name, "err", err)
	case err != nil:
		b.failures++
		if b.failures >= b.maxFailures && b.state == StateClosed {
			b.trip()
			slog.Warn("resilience: breaker opened", "name", b.name, "consecutive_failures", b.failures)
		}
	case probe:
		// A probe may finish after another probe already re-opened the
		// breaker; only count it while still half-open.
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.halfOpenMax {
				b.state = StateClosed
				b.failures = 0
				slog.Info("resilience: breaker closed", "name", b.name)
			}
		}
	default:
		b.failures = 0
	}
	return err
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
}

// State returns the current state. An open breaker whose timeout elapsed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.probes, b.successes = 0, 0, 0
}
