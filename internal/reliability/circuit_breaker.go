// Package reliability provides the circuit breaker and cloud backup services.
package reliability

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the current state of a circuit breaker.
type BreakerState string

const (
	// StateClosed - Normal operation, calls flow through
	StateClosed BreakerState = "closed"
	// StateOpen - Calls are rejected until the cooldown elapses
	StateOpen BreakerState = "open"
	// StateHalfOpen - One trial call is allowed through
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig holds circuit breaker tuning parameters.
type BreakerConfig struct {
	FailureThreshold int           // Consecutive failures before opening
	Cooldown         time.Duration // Initial open-state cooldown
	MaxCooldown      time.Duration // Bound for cooldown doubling
}

// CircuitBreaker tracks consecutive failures for one failure domain and
// short-circuits calls while the domain is unhealthy. Each domain (quotes
// per symbol, order execution) owns an independent instance.
//
// State machine: closed -> open after FailureThreshold consecutive
// failures, open -> half_open once the cooldown elapses, half_open ->
// closed on success or back to open with a doubled cooldown on failure.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	log    zerolog.Logger

	mu              sync.Mutex
	state           BreakerState
	failures        int       // Consecutive failure count while closed
	currentCooldown time.Duration
	openedAt        time.Time
	lastFailure     time.Time
	totalTrips      int
	now             func() time.Time // Injectable clock for tests
}

// BreakerInfo is a telemetry snapshot of one breaker.
type BreakerInfo struct {
	Name            string        `json:"name"`
	State           BreakerState  `json:"state"`
	Failures        int           `json:"failures"`
	CurrentCooldown time.Duration `json:"current_cooldown"`
	OpenedAt        time.Time     `json:"opened_at,omitempty"`
	LastFailure     time.Time     `json:"last_failure,omitempty"`
	TotalTrips      int           `json:"total_trips"`
}

// NewCircuitBreaker creates a circuit breaker for one failure domain.
func NewCircuitBreaker(name string, config BreakerConfig, log zerolog.Logger) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 5 * time.Minute
	}
	if config.MaxCooldown < config.Cooldown {
		config.MaxCooldown = time.Hour
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		log:             log.With().Str("component", "circuit_breaker").Str("breaker", name).Logger(),
		state:           StateClosed,
		currentCooldown: config.Cooldown,
		now:             time.Now,
	}
}

// CanProceed reports whether a call may go through. An open breaker whose
// cooldown has elapsed transitions to half_open and admits one trial call.
func (cb *CircuitBreaker) CanProceed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.currentCooldown {
			cb.state = StateHalfOpen
			cb.log.Info().
				Dur("cooldown", cb.currentCooldown).
				Msg("Circuit breaker entering half-open state")
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the breaker after a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.log.Info().Msg("Circuit breaker recovered, closing")
	}

	cb.state = StateClosed
	cb.failures = 0
	cb.currentCooldown = cb.config.Cooldown
}

// RecordFailure registers a failed call. While closed it increments the
// consecutive failure count and opens the breaker at the threshold. A
// half-open failure reopens immediately with a doubled cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()

	switch cb.state {
	case StateHalfOpen:
		cb.currentCooldown = cb.currentCooldown * 2
		if cb.currentCooldown > cb.config.MaxCooldown {
			cb.currentCooldown = cb.config.MaxCooldown
		}
		cb.open()
		cb.log.Warn().
			Dur("cooldown", cb.currentCooldown).
			Msg("Trial call failed, reopening circuit breaker with doubled cooldown")

	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
			cb.log.Warn().
				Int("failures", cb.failures).
				Dur("cooldown", cb.currentCooldown).
				Msg("Failure threshold reached, opening circuit breaker")
		}
	}
}

// open transitions to the open state. Caller must hold the mutex.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failures = 0
	cb.totalTrips++
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Info returns a telemetry snapshot.
func (cb *CircuitBreaker) Info() BreakerInfo {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerInfo{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		CurrentCooldown: cb.currentCooldown,
		OpenedAt:        cb.openedAt,
		LastFailure:     cb.lastFailure,
		TotalTrips:      cb.totalTrips,
	}
}

// BreakerRegistry hands out one breaker per failure domain.
type BreakerRegistry struct {
	config BreakerConfig
	log    zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry with shared tuning parameters.
func NewBreakerRegistry(config BreakerConfig, log zerolog.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		log:      log,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the named domain, creating it on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := NewCircuitBreaker(name, r.config, r.log)
	r.breakers[name] = cb
	return cb
}

// Snapshot returns telemetry for all breakers.
func (r *BreakerRegistry) Snapshot() []BreakerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]BreakerInfo, 0, len(r.breakers))
	for _, cb := range r.breakers {
		infos = append(infos, cb.Info())
	}
	return infos
}
