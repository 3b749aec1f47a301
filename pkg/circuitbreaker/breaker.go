// Package circuitbreaker implements an explicit closed/open/half-open state
// machine with an injected clock. It guards best-effort outbound calls such
// as notification dispatch.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
type State int32

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
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings for circuit breaker behavior
type Settings struct {
	// FailureThreshold: consecutive failures that trip the circuit open.
	FailureThreshold uint32
	// SuccessThreshold: consecutive successes that close it from half-open.
	SuccessThreshold uint32
	// Timeout: how long the circuit stays open before a half-open probe.
	Timeout time.Duration
	// Now is the injected clock; defaults to time.Now.
	Now func() time.Time
}

// DefaultSettings returns the shipped breaker tuning.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name     string
	settings Settings

	mu              sync.Mutex
	state           State
	consecutiveFail uint32
	consecutiveSucc uint32
	expiry          time.Time // when open transitions to half-open
}

// New creates a breaker with the given settings, filling defaults for zero
// values.
func New(name string, settings Settings) *CircuitBreaker {
	def := DefaultSettings()
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = def.FailureThreshold
	}
	if settings.SuccessThreshold == 0 {
		settings.SuccessThreshold = def.SuccessThreshold
	}
	if settings.Timeout == 0 {
		settings.Timeout = def.Timeout
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &CircuitBreaker{name: name, settings: settings, state: StateClosed}
}

// Execute runs fn through the breaker.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

// State returns the current state, applying any pending open→half-open
// transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh()
	return cb.state != StateOpen
}

// refresh moves open to half-open once the timeout elapses. Caller holds mu.
func (cb *CircuitBreaker) refresh() {
	if cb.state == StateOpen && !cb.settings.Now().Before(cb.expiry) {
		cb.state = StateHalfOpen
		cb.consecutiveSucc = 0
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.consecutiveFail = 0
		if cb.state == StateHalfOpen {
			cb.consecutiveSucc++
			if cb.consecutiveSucc >= cb.settings.SuccessThreshold {
				cb.state = StateClosed
			}
		}
		return
	}

	cb.consecutiveSucc = 0
	cb.consecutiveFail++
	if cb.state == StateHalfOpen || cb.consecutiveFail >= cb.settings.FailureThreshold {
		cb.state = StateOpen
		cb.expiry = cb.settings.Now().Add(cb.settings.Timeout)
	}
}
