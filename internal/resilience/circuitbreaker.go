// Package resilience protects the assessment pipeline from a remote decoder
// that has gone away.
//
// [CircuitBreaker] counts consecutive backend failures. Once MaxFailures is
// reached it opens and rejects calls with [ErrCircuitOpen] for ResetTimeout.
// After that a single probe call is let through: success closes the breaker
// and failure re-opens it. [STTBreaker] puts a decoder behind one, so a
// batch against a dead whisper server fails each item immediately instead
// of each waiting out its own timeout. Nothing here retries.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's operating mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take defaults.
type CircuitBreakerConfig struct {
	// Name labels logs and state-change callbacks.
	Name string

	// MaxFailures is the run of consecutive failures that opens the
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default 30s.
	ResetTimeout time.Duration

	// IsFailure reports whether err counts against the backend. The default
	// counts every error except context.Canceled, since a cancelled call
	// says nothing about the backend. Errors it rejects are neutral: they
	// neither reset nor extend the failure run.
	IsFailure func(error) bool

	// OnStateChange runs after each transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = 5
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 30 * time.Second
	}
	if cb.isFailure == nil {
		cb.isFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	return cb
}

// Execute calls fn unless the breaker is rejecting calls, and returns fn's
// error unchanged. While half-open only one probe runs at a time; other
// callers get [ErrCircuitOpen] until it settles.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err)
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return false, nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
	}
	cb.probing = true
	to := cb.state
	cb.mu.Unlock()
	cb.transitioned(from, to)
	return true, nil
}

func (cb *CircuitBreaker) settle(probe bool, err error) {
	failed := cb.isFailure(err)

	cb.mu.Lock()
	from := cb.state
	if probe {
		cb.probing = false
	}
	switch {
	case failed:
		cb.failures++
		if probe || (cb.state == StateClosed && cb.failures >= cb.maxFailures) {
			cb.state = StateOpen
			cb.openedAt = cb.now()
		}
	case err == nil:
		cb.failures = 0
		if probe {
			cb.state = StateClosed
		}
	}
	to, failures := cb.state, cb.failures
	cb.mu.Unlock()

	if from != to && to == StateOpen {
		slog.Warn("circuit breaker opened", "name", cb.name, "consecutive_failures", failures, "err", err)
	}
	cb.transitioned(from, to)
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state change", "name", cb.name, "from", from, "to", to)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State reports the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the breaker and clears the failure run.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state, cb.failures, cb.probing = StateClosed, 0, false
	cb.mu.Unlock()
	cb.transitioned(from, StateClosed)
}
