package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"roadwatch/pkg/clock"
)

// ErrOpen is returned when a call is rejected without being attempted.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, calls pass through
	StateOpen                  // Calls fail immediately
	StateHalfOpen              // Probing whether the dependency recovered
)

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

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold    int           // Consecutive failures before opening
	SuccessThreshold    int           // Successes in half-open state needed to close
	Timeout             time.Duration // Time spent open before probing
	MaxRequestsHalfOpen int           // Max calls allowed in half-open state
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

// CircuitBreaker guards calls to an unreliable dependency such as a
// detector endpoint or an output sink.
type CircuitBreaker struct {
	name   string
	config Config
	clock  clock.Clock

	mu               sync.RWMutex
	state            State
	failureCount     int
	successCount     int
	halfOpenRequests int
	rejected         uint64
	lastFailureTime  time.Time
	stateChangeTime  time.Time

	onStateChange func(name string, from, to State)
}

// New creates a named circuit breaker on the wall clock.
func New(name string, config Config) *CircuitBreaker {
	return NewWithClock(name, config, clock.Real{})
}

func NewWithClock(name string, config Config, clk clock.Clock) *CircuitBreaker {
	return &CircuitBreaker{
		name:            name,
		config:          config,
		clock:           clk,
		state:           StateClosed,
		stateChangeTime: clk.Now(),
	}
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// OnStateChange registers a callback invoked synchronously on every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn through the circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteWithResult(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithResult runs fn through cb and returns its result.
func ExecuteWithResult[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if !cb.allowRequest() {
		return zero, fmt.Errorf("%s: %w", cb.name, ErrOpen)
	}

	result, err := fn(ctx)
	if err != nil {
		// A cancelled caller says nothing about the dependency's health.
		if ctx.Err() == nil {
			cb.onFailure()
		}
		return zero, err
	}

	cb.onSuccess()
	return result, nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	var notify func()
	defer func() {
		if notify != nil {
			notify()
		}
	}()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Since(cb.stateChangeTime) >= cb.config.Timeout {
			notify = cb.transitionTo(StateHalfOpen)
			cb.halfOpenRequests++
			return true
		}
		cb.rejected++
		return false
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.config.MaxRequestsHalfOpen {
			cb.rejected++
			return false
		}
		cb.halfOpenRequests++
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) onFailure() {
	var notify func()
	cb.mu.Lock()

	cb.failureCount++
	cb.successCount = 0
	cb.lastFailureTime = cb.clock.Now()

	if cb.state == StateClosed && cb.failureCount >= cb.config.FailureThreshold {
		notify = cb.transitionTo(StateOpen)
	} else if cb.state == StateHalfOpen {
		notify = cb.transitionTo(StateOpen)
	}
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	var notify func()
	cb.mu.Lock()

	cb.successCount++
	cb.failureCount = 0

	if cb.state == StateHalfOpen && cb.successCount >= cb.config.SuccessThreshold {
		notify = cb.transitionTo(StateClosed)
	}
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// transitionTo must be called with mu held. It returns the callback to run
// once the lock is released.
func (cb *CircuitBreaker) transitionTo(newState State) func() {
	if cb.state == newState {
		return nil
	}

	oldState := cb.state
	cb.state = newState
	cb.stateChangeTime = cb.clock.Now()
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenRequests = 0

	if cb.onStateChange == nil {
		return nil
	}
	fn, name := cb.onStateChange, cb.name
	return func() { fn(name, oldState, newState) }
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns current circuit breaker statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return Stats{
		Name:             cb.name,
		State:            cb.state,
		FailureCount:     cb.failureCount,
		SuccessCount:     cb.successCount,
		HalfOpenRequests: cb.halfOpenRequests,
		Rejected:         cb.rejected,
		LastFailureTime:  cb.lastFailureTime,
		StateChangeTime:  cb.stateChangeTime,
	}
}

// Stats holds circuit breaker statistics
type Stats struct {
	Name             string
	State            State
	FailureCount     int
	SuccessCount     int
	HalfOpenRequests int
	Rejected         uint64
	LastFailureTime  time.Time
	StateChangeTime  time.Time
}

// Reset returns the circuit breaker to the closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.transitionTo(StateClosed)
	cb.mu.Unlock()

	if notify != nil {
		notify()
	}
}
