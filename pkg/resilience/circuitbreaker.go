package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"music-stream/backend/pkg/logger"
)

// ErrCircuitOpen is returned by Execute while the circuit rejects calls
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreakerState represents the current state of a circuit breaker
type CircuitBreakerState string

const (
	// StateClosed means the circuit is closed and requests are allowed to pass through
	StateClosed CircuitBreakerState = "closed"
	// StateOpen means the circuit is open and requests are being short-circuited
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen means the circuit is allowing a limited number of test requests
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreaker implements the Circuit Breaker pattern
type CircuitBreaker struct {
	name             string
	state            CircuitBreakerState
	failureThreshold uint
	successThreshold uint
	retryTimeout     time.Duration
	mutex            sync.RWMutex
	failureCount     uint
	successCount     uint
	trialsInFlight   uint
	trialGeneration  uint64
	lastFailureTime  time.Time
	nextAttemptTime  time.Time
	log              *logger.Logger

	totalFailures    uint64
	totalSuccesses   uint64
	totalRejected    uint64
	totalRequests    uint64
	openCircuitCount uint64
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold uint
	SuccessThreshold uint
	RetryTimeout     time.Duration
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     30 * time.Second,
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &CircuitBreaker{
		name:             config.Name,
		state:            StateClosed,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		retryTimeout:     config.RetryTimeout,
		log:              log,
	}
}

// Execute runs fn through the circuit breaker. Context cancellation by the
// caller is not counted as a failure of the protected dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	allowed, trial := cb.allowRequest()
	if !allowed {
		cb.mutex.Lock()
		cb.totalRejected++
		cb.mutex.Unlock()
		cb.log.Warn("circuit breaker rejected request", "name", cb.name)
		return ErrCircuitOpen
	}

	start := time.Now()
	err := fn(ctx)
	if trial != 0 {
		cb.releaseTrial(trial)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		cb.recordFailure()
		cb.log.Warn("circuit breaker recorded failure",
			"name", cb.name,
			"error", err.Error(),
			"duration", time.Since(start).String(),
		)
		return err
	}

	cb.recordSuccess()
	return nil
}

// allowRequest reports whether a call may run. Calls admitted while half-open
// are trials: at most successThreshold of them are in flight at once, and the
// returned generation identifies the half-open period they belong to.
func (cb *CircuitBreaker) allowRequest() (bool, uint64) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return true, 0
	case StateOpen:
		if !time.Now().After(cb.nextAttemptTime) {
			return false, 0
		}
		cb.toHalfOpen()
	}

	if cb.successCount+cb.trialsInFlight >= cb.successThreshold {
		return false, 0
	}
	cb.trialsInFlight++
	return true, cb.trialGeneration
}

func (cb *CircuitBreaker) releaseTrial(generation uint64) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if generation == cb.trialGeneration && cb.trialsInFlight > 0 {
		cb.trialsInFlight--
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalSuccesses++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.toClosed()
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalFailures++
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.toOpen()
		}
	case StateHalfOpen:
		cb.toOpen()
	}
}

func (cb *CircuitBreaker) toOpen() {
	cb.state = StateOpen
	cb.openCircuitCount++
	cb.nextAttemptTime = time.Now().Add(cb.retryTimeout)

	cb.log.Info("circuit breaker opened",
		"name", cb.name,
		"failures", cb.failureCount,
		"next_attempt", cb.nextAttemptTime.Format(time.RFC3339),
	)
}

func (cb *CircuitBreaker) toHalfOpen() {
	cb.state = StateHalfOpen
	cb.successCount = 0
	cb.trialsInFlight = 0
	cb.trialGeneration++
	cb.log.Info("circuit breaker half-open", "name", cb.name)
}

func (cb *CircuitBreaker) toClosed() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.log.Info("circuit breaker closed", "name", cb.name)
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// GetMetrics returns the current counters of the circuit breaker
func (cb *CircuitBreaker) GetMetrics() map[string]any {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	return map[string]any{
		"name":               cb.name,
		"state":              string(cb.state),
		"total_requests":     cb.totalRequests,
		"total_failures":     cb.totalFailures,
		"total_successes":    cb.totalSuccesses,
		"total_rejected":     cb.totalRejected,
		"open_circuit_count": cb.openCircuitCount,
		"last_failure_time":  cb.lastFailureTime,
	}
}
