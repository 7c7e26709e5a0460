package unireq

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// CircuitBreaker is a lock-free breaker shared by every request that uses it.
type CircuitBreaker struct {
	failureThreshold int64
	recoveryTimeout  int64
	successThreshold int64

	state       atomic.Int64
	failures    atomic.Int64
	successes   atomic.Int64
	lastFailure atomic.Int64
}

// CircuitBreakerStats is a snapshot of breaker state.
type CircuitBreakerStats struct {
	State         CircuitState
	Failures      int64
	Successes     int64
	LastFailure   time.Time
	TimeToRecover time.Duration
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}

	return &CircuitBreaker{
		failureThreshold: int64(config.FailureThreshold),
		recoveryTimeout:  int64(config.RecoveryTimeout),
		successThreshold: int64(config.SuccessThreshold),
	}
}

// Allow reports if a request is permitted under current breaker state.
func (cb *CircuitBreaker) Allow() bool {
	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		return true
	case StateOpen:
		if time.Now().UnixNano()-cb.lastFailure.Load() >= cb.recoveryTimeout {
			if cb.state.CompareAndSwap(int64(StateOpen), int64(StateHalfOpen)) {
				cb.successes.Store(0)
				return true
			}
			// If CAS failed, another goroutine transitioned, re-read state
			return cb.state.Load() == int64(StateHalfOpen)
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.lastFailure.Store(time.Now().UnixNano())

	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		if cb.failures.Add(1) >= cb.failureThreshold {
			cb.state.CompareAndSwap(int64(StateClosed), int64(StateOpen))
		}
	case StateOpen:
		cb.failures.Add(1)
	case StateHalfOpen:
		// A failed probe reopens the circuit immediately.
		cb.successes.Store(0)
		cb.failures.Add(1)
		cb.state.Store(int64(StateOpen))
	}
}

// RecordSuccess closes a half-open breaker once enough probes succeed.
func (cb *CircuitBreaker) RecordSuccess() {
	switch CircuitState(cb.state.Load()) {
	case StateClosed:
		cb.failures.Store(0)
	case StateHalfOpen:
		if cb.successes.Add(1) >= cb.successThreshold {
			if cb.state.CompareAndSwap(int64(StateHalfOpen), int64(StateClosed)) {
				cb.failures.Store(0)
				cb.successes.Store(0)
			}
		}
	}
}

// State returns the current state without side effects.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	state := CircuitState(cb.state.Load())
	stats := CircuitBreakerStats{
		State:     state,
		Failures:  cb.failures.Load(),
		Successes: cb.successes.Load(),
	}
	if last := cb.lastFailure.Load(); last > 0 {
		stats.LastFailure = time.Unix(0, last)
		if state == StateOpen {
			if remaining := cb.recoveryTimeout - (time.Now().UnixNano() - last); remaining > 0 {
				stats.TimeToRecover = time.Duration(remaining)
			}
		}
	}
	return stats
}

// Reset clears all circuit breaker state and returns to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.state.Store(int64(StateClosed))
	cb.failures.Store(0)
	cb.successes.Store(0)
	cb.lastFailure.Store(0)
}

// BreakerOptions configures the Breaker policy.
type BreakerOptions struct {
	// IsFailure classifies an outcome. Defaults to errors other than caller
	// cancellation and 5xx responses.
	IsFailure func(resp *Response, err error) bool
	// OnStateChange fires after an outcome moved the breaker to a new state.
	OnStateChange func(from, to CircuitState)
	Logger        *zap.Logger
}

// DefaultIsFailure counts transport failures and 5xx responses. Caller
// cancellation is not the upstream's fault and is ignored.
func DefaultIsFailure(resp *Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return resp != nil && resp.StatusCode >= 500
}

// Breaker rejects requests with ErrCircuitOpen while cb is open and feeds
// every outcome back into cb.
func Breaker(cb *CircuitBreaker, opts BreakerOptions) Policy {
	if cb == nil {
		cb = NewCircuitBreaker(CircuitBreakerConfig{})
	}
	if opts.IsFailure == nil {
		opts.IsFailure = DefaultIsFailure
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("component", "circuit-breaker"))

	fn := func(ctx context.Context, req *Request, next Next) (*Response, error) {
		if !cb.Allow() {
			logger.Warn("circuit breaker open", zap.String("url", req.URL))
			return nil, newError(ErrorTypeCircuitOpen, "circuit breaker is open", req, nil)
		}

		before := cb.State()
		resp, err := next(ctx, req)
		if opts.IsFailure(resp, err) {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
		if after := cb.State(); after != before {
			logger.Info("circuit breaker state change",
				zap.Stringer("from", before),
				zap.Stringer("to", after))
			if opts.OnStateChange != nil {
				opts.OnStateChange(before, after)
			}
		}
		return resp, err
	}

	return Define(fn, Descriptor{
		Name: "breaker",
		Kind: KindCircuitBreaker,
		Options: map[string]any{
			"failureThreshold": cb.failureThreshold,
			"recoveryTimeout":  time.Duration(cb.recoveryTimeout).String(),
			"successThreshold": cb.successThreshold,
		},
	})
}
