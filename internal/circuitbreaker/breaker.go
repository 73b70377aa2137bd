package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is testing if the backend recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// StateChangeFunc is an observer invoked on every state transition.
type StateChangeFunc func(name string, from, to State)

// Operation is a unit of work executed under circuit breaker protection.
type Operation func(ctx context.Context) error

// CircuitBreaker implements the circuit breaker pattern with three states.
// A breaker is owned by exactly one service and is never shared.
type CircuitBreaker struct {
	name   string
	config *Config
	logger *zap.Logger

	mu    sync.Mutex
	state State

	// Consecutive counters drive state transitions.
	failureCount int
	successCount int

	totalRequests   int64
	lastFailureTime time.Time
	lastSuccessTime time.Time

	// nextAttemptTime is non-zero if and only if state == StateOpen.
	nextAttemptTime time.Time

	window    windowCounters
	observers []StateChangeFunc

	stopCh    chan struct{}
	closeOnce sync.Once
}

// windowCounters holds the rolling metrics window. Reset every monitoring
// period; never consulted for transition decisions.
type windowCounters struct {
	Requests        int64
	Failures        int64
	Successes       int64
	Timeouts        int64
	Rejections      int64
	AvgResponseTime time.Duration
	samples         int64
	WindowStart     time.Time
}

// WindowStats is a snapshot of the rolling metrics window.
type WindowStats struct {
	Requests        int64         `json:"requests"`
	Failures        int64         `json:"failures"`
	Successes       int64         `json:"successes"`
	Timeouts        int64         `json:"timeouts"`
	Rejections      int64         `json:"rejections"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	WindowStart     time.Time     `json:"windowStart"`
}

// Stats is a snapshot of circuit breaker state for observability.
type Stats struct {
	State           State       `json:"state"`
	FailureCount    int         `json:"failureCount"`
	SuccessCount    int         `json:"successCount"`
	TotalRequests   int64       `json:"totalRequests"`
	LastFailureTime time.Time   `json:"lastFailureTime"`
	LastSuccessTime time.Time   `json:"lastSuccessTime"`
	NextAttemptTime time.Time   `json:"nextAttemptTime"`
	Window          WindowStats `json:"window"`
}

// New creates a new circuit breaker and starts its metrics reset timer.
// Call Close to stop the timer.
func New(name string, config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()

	if logger == nil {
		logger = zap.NewNop()
	}

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  StateClosed,
		window: windowCounters{WindowStart: time.Now()},
		stopCh: make(chan struct{}),
	}

	RecordState(name, StateClosed)

	go cb.resetLoop()

	return cb
}

// resetLoop resets the rolling window every monitoring period.
func (cb *CircuitBreaker) resetLoop() {
	ticker := time.NewTicker(cb.config.MonitoringPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-cb.stopCh:
			return
		case <-ticker.C:
			cb.mu.Lock()
			cb.window = windowCounters{WindowStart: time.Now()}
			cb.mu.Unlock()
		}
	}
}

// Close stops the background metrics reset timer. Safe to call multiple times.
func (cb *CircuitBreaker) Close() {
	cb.closeOnce.Do(func() {
		close(cb.stopCh)
	})
}

// Allow checks if a request is admitted. In the open state the first check at
// or after nextAttemptTime transitions the breaker to half-open and admits
// the triggering call.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.allowLocked(time.Now())
}

// allowLocked implements admission. Caller must hold cb.mu.
func (cb *CircuitBreaker) allowLocked(now time.Time) bool {
	switch cb.state {
	case StateClosed:
		RecordRequest(cb.name, true)
		return true

	case StateOpen:
		if !now.Before(cb.nextAttemptTime) {
			cb.transitionLocked(StateHalfOpen)
			RecordRequest(cb.name, true)
			return true
		}
		cb.window.Rejections++
		RecordRequest(cb.name, false)
		return false

	case StateHalfOpen:
		RecordRequest(cb.name, true)
		return true

	default:
		RecordRequest(cb.name, false)
		return false
	}
}

// Execute runs the operation under circuit breaker protection. Admission is
// checked first; denied calls fail immediately with an OpenError and the
// operation is never invoked. Admitted operations run under the configured
// call timeout; a deadline breach fails with a TimeoutError and counts as a
// failure. Once admitted, the outcome is recorded even if the client has
// gone away.
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation) error {
	cb.mu.Lock()
	now := time.Now()
	if !cb.allowLocked(now) {
		openErr := &OpenError{
			Name:        cb.name,
			State:       cb.state,
			NextAttempt: cb.nextAttemptTime,
		}
		cb.mu.Unlock()
		return openErr
	}
	cb.totalRequests++
	cb.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	start := time.Now()
	err := op(callCtx)
	elapsed := time.Since(start)

	if err != nil && errors.Is(err, context.DeadlineExceeded) && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		cb.recordOutcome(outcomeTimeout, elapsed)
		return &TimeoutError{Name: cb.name, Timeout: cb.config.CallTimeout}
	}

	if err != nil {
		if cb.countsAsFailure(err) {
			cb.recordOutcome(outcomeFailure, elapsed)
		} else {
			cb.recordOutcome(outcomeNeutral, elapsed)
		}
		return err
	}

	cb.recordOutcome(outcomeSuccess, elapsed)
	return nil
}

// RecordSuccess records a success observed out of band (e.g. by the health
// checker), applying the same transition rules as Execute.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.totalRequests++
	cb.mu.Unlock()
	cb.recordOutcome(outcomeSuccess, 0)
}

// RecordFailure records a failure observed out of band, applying the same
// classification and transition rules as Execute. Errors excluded by the
// failure filter are ignored.
func (cb *CircuitBreaker) RecordFailure(err error) {
	if !cb.countsAsFailure(err) {
		return
	}
	cb.mu.Lock()
	cb.totalRequests++
	cb.mu.Unlock()
	cb.recordOutcome(outcomeFailure, 0)
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeTimeout
	outcomeNeutral
)

// recordOutcome applies an observed call outcome to the state machine and the
// rolling window.
func (cb *CircuitBreaker) recordOutcome(o outcome, elapsed time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.window.Requests++
	if elapsed > 0 {
		cb.window.samples++
		// Incremental average update.
		cb.window.AvgResponseTime += (elapsed - cb.window.AvgResponseTime) / time.Duration(cb.window.samples)
	}

	switch o {
	case outcomeSuccess:
		cb.window.Successes++
		cb.lastSuccessTime = now
		RecordSuccess(cb.name)
		cb.applySuccessLocked()

	case outcomeFailure, outcomeTimeout:
		cb.window.Failures++
		if o == outcomeTimeout {
			cb.window.Timeouts++
			RecordTimeout(cb.name)
		}
		cb.lastFailureTime = now
		RecordFailure(cb.name)
		cb.applyFailureLocked(now)

	case outcomeNeutral:
		// Excluded by the failure filter: counted as traffic, no state change.
	}
}

// applySuccessLocked applies success transition rules. Caller must hold cb.mu.
func (cb *CircuitBreaker) applySuccessLocked() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
}

// applyFailureLocked applies failure transition rules. Caller must hold cb.mu.
func (cb *CircuitBreaker) applyFailureLocked(now time.Time) {
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.openLocked(now)
		}

	case StateHalfOpen:
		// A single failure undoes recovery.
		cb.openLocked(now)

	case StateOpen:
		cb.failureCount++
	}
}

// openLocked transitions to open and schedules the next trial attempt.
// Caller must hold cb.mu.
func (cb *CircuitBreaker) openLocked(now time.Time) {
	cb.transitionLocked(StateOpen)
	cb.nextAttemptTime = now.Add(cb.config.RecoveryTimeout)
}

// transitionLocked performs a state transition. Caller must hold cb.mu.
func (cb *CircuitBreaker) transitionLocked(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	switch newState {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
		cb.nextAttemptTime = time.Time{}
	case StateHalfOpen:
		cb.successCount = 0
		cb.nextAttemptTime = time.Time{}
	case StateOpen:
		cb.successCount = 0
	}

	RecordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
	)

	if len(cb.observers) > 0 {
		observers := make([]StateChangeFunc, len(cb.observers))
		copy(observers, cb.observers)
		go func() {
			for _, fn := range observers {
				fn(cb.name, oldState, newState)
			}
		}()
	}
}

// countsAsFailure classifies an error via the configured failure filter.
func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.config.FailureFilter != nil {
		return cb.config.FailureFilter(err)
	}
	return DefaultFailureFilter(err)
}

// OnStateChange registers an observer for state transitions.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.observers = append(cb.observers, fn)
}

// ForceState forces the breaker into the given state. Forcing an unrecognized
// state fails with ErrInvalidState.
func (cb *CircuitBreaker) ForceState(state State) error {
	switch state {
	case StateClosed, StateOpen, StateHalfOpen:
	default:
		return ErrInvalidState
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.transitionLocked(state)
	if state == StateOpen {
		cb.nextAttemptTime = now.Add(cb.config.RecoveryTimeout)
	}
	return nil
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// NextAttemptTime returns when the next trial call is allowed. Zero unless
// the breaker is open.
func (cb *CircuitBreaker) NextAttemptTime() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.nextAttemptTime
}

// Stats returns a snapshot of the current statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		TotalRequests:   cb.totalRequests,
		LastFailureTime: cb.lastFailureTime,
		LastSuccessTime: cb.lastSuccessTime,
		NextAttemptTime: cb.nextAttemptTime,
		Window: WindowStats{
			Requests:        cb.window.Requests,
			Failures:        cb.window.Failures,
			Successes:       cb.window.Successes,
			Timeouts:        cb.window.Timeouts,
			Rejections:      cb.window.Rejections,
			AvgResponseTime: cb.window.AvgResponseTime,
			WindowStart:     cb.window.WindowStart,
		},
	}
}
