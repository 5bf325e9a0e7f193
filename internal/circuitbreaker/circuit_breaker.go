// Package circuitbreaker stops calls to a failing optional dependency until it
// has had time to recover.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/staking-ledger/internal/clock"
	"github.com/staking-ledger/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the dependency has recovered
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name string
	// MaxFailures consecutive failures open the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before a trial call
	Timeout time.Duration
	// HalfOpenSuccesses trial successes close the circuit again
	HalfOpenSuccesses int
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:              name,
		MaxFailures:       5,
		Timeout:           30 * time.Second,
		HalfOpenSuccesses: 2,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	config *Config
	clock  clock.Clock

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenOK       int
	trialInFlight    bool
	openedAt         time.Time
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config *Config, clk clock.Clock) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &CircuitBreaker{
		config: config,
		clock:  clk,
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open. Context cancellation is not
// counted as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(ctx); err != nil {
		return err
	}

	err := fn()

	cb.afterRequest(ctx, err)
	return err
}

func (cb *CircuitBreaker) beforeRequest(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenOK = 0
		cb.trialInFlight = true
		logging.FromContext(ctx).WithField("circuitBreaker", cb.config.Name).Info("Circuit breaker half-open, sending trial call")
		return nil

	case StateHalfOpen:
		// One trial call at a time
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil
	}

	return nil
}

func (cb *CircuitBreaker) afterRequest(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}

	if err == nil {
		cb.consecutiveFails = 0
		if cb.state == StateHalfOpen {
			cb.halfOpenOK++
			if cb.halfOpenOK >= cb.config.HalfOpenSuccesses {
				cb.state = StateClosed
				logging.FromContext(ctx).WithField("circuitBreaker", cb.config.Name).Info("Circuit breaker closed after successful recovery")
			}
		}
		return
	}

	cb.consecutiveFails++
	switch cb.state {
	case StateClosed:
		if cb.consecutiveFails >= cb.config.MaxFailures {
			cb.open(ctx, err)
		}
	case StateHalfOpen:
		cb.open(ctx, err)
	}
}

func (cb *CircuitBreaker) open(ctx context.Context, cause error) {
	cb.state = StateOpen
	cb.openedAt = cb.clock.Now()
	logging.FromContext(ctx).WithError(cause).WithFields(logging.Fields{
		"circuitBreaker":   cb.config.Name,
		"consecutiveFails": cb.consecutiveFails,
	}).Warn("Circuit breaker opened")
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.halfOpenOK = 0
	cb.trialInFlight = false
}
