// Package circuitbreaker guards predict calls against backends that keep
// failing: after enough consecutive failures the breaker opens and requests
// against that endpoint fail fast until a probe succeeds.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: backend unhealthy, requests fail immediately
//   - Half-Open: testing recovery, limited requests allowed
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing fast
	StateHalfOpen              // testing recovery
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

type Config struct {
	FailureThreshold int           // failures before opening
	SuccessThreshold int           // successes to close from half-open
	Timeout          time.Duration // time before transitioning to half-open
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Breaker tracks failures for one backend endpoint.
type Breaker struct {
	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
}

func New(cfg Config) *Breaker {
	return &Breaker{
		state:  StateClosed,
		config: cfg,
	}
}

// Allow returns nil when a request may proceed, ErrCircuitBreakerOpen when
// the circuit is open.
func (cb *Breaker) Allow(ctx context.Context) error {
	cb.mu.RLock()
	state := cb.state
	lastFailure := cb.lastFailure
	cb.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(lastFailure) > cb.config.Timeout {
			cb.mu.Lock()
			if cb.state == StateOpen {
				cb.state = StateHalfOpen
				cb.successes = 0
			}
			cb.mu.Unlock()
			return nil
		}
		return domain.ErrCircuitBreakerOpen
	case StateHalfOpen:
		return nil
	}

	return nil
}

func (cb *Breaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *Breaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successes = 0
	}
}

func (cb *Breaker) State(ctx context.Context) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Manager holds one breaker per backend endpoint URL.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for an endpoint, creating one if needed.
func (m *Manager) Get(endpoint string) *Breaker {
	m.mu.RLock()
	cb, ok := m.breakers[endpoint]
	m.mu.RUnlock()

	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.breakers[endpoint]; ok {
		return existing
	}

	cb = New(m.config)
	m.breakers[endpoint] = cb
	return cb
}

// States returns the current state of every breaker, for health reporting.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := context.Background()
	states := make(map[string]string)
	for endpoint, cb := range m.breakers {
		states[endpoint] = cb.State(ctx).String()
	}
	return states
}
