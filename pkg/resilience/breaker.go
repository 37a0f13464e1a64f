// Package resilience provides an explicit circuit breaker and retry policy.
package resilience

import (
	"sync"
	"time"

	"github.com/IKCONDev/ums-googlemeet-batchjob-service-sub000/pkg/metrics"
)

// State is the position of a breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Clock returns the current time.
type Clock func() time.Time

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *CircuitBreaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before a trial call.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *CircuitBreaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(c Clock) BreakerOption {
	return func(b *CircuitBreaker) {
		if c != nil {
			b.now = c
		}
	}
}

// CircuitBreaker is a closed/open/half-open state machine shared by every
// caller of one dependency. All methods are safe for concurrent use.
//
// Closed: calls pass; consecutive failures are counted and reaching the
// threshold opens the breaker. Open: calls are rejected until the cooldown
// elapses. Half-open: exactly one trial call is admitted; its success closes
// the breaker and its failure reopens it.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       Clock

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

// NewCircuitBreaker creates a closed breaker. Defaults: 5 failures, 30s cooldown.
func NewCircuitBreaker(name string, opts ...BreakerOption) *CircuitBreaker {
	b := &CircuitBreaker{
		name:      name,
		threshold: 5,
		cooldown:  30 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.UpdateBreakerState(name, StateClosed.String(), float64(StateClosed))
	return b
}

// Name returns the dependency name.
func (b *CircuitBreaker) Name() string { return b.name }

// State returns the current state, moving open to half-open once the cooldown has passed.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Allow reports whether a call may proceed. Every admitted call must be
// followed by exactly one Success, Failure or Release.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
	}
	return nil
}

// Success records a successful admitted call. A late success from a call
// admitted before the breaker opened does not close it.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trial = false
		b.failures = 0
		b.transition(StateClosed)
	case StateClosed:
		b.failures = 0
	}
}

// Failure records a failed admitted call.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trial = false
		b.open()
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.open()
		}
	}
}

// Release gives back an admitted call that neither succeeded nor failed
// against the dependency, such as a rejected request.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.trial = false
	}
}

// must hold mu
func (b *CircuitBreaker) advance() {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.cooldown)) {
		b.trial = false
		b.transition(StateHalfOpen)
	}
}

// must hold mu
func (b *CircuitBreaker) open() {
	b.openedAt = b.now()
	b.failures = 0
	b.transition(StateOpen)
}

// must hold mu
func (b *CircuitBreaker) transition(to State) {
	b.state = to
	metrics.UpdateBreakerState(b.name, to.String(), float64(to))
}

// Registry hands out one shared breaker per dependency name.
type Registry struct {
	mu       sync.Mutex
	opts     []BreakerOption
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers are built with opts.
func NewRegistry(opts ...BreakerOption) *Registry {
	return &Registry{opts: opts, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, r.opts...)
	r.breakers[name] = b
	return b
}

// States snapshots every breaker's state by name.
func (r *Registry) States() map[string]string {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]string, len(breakers))
	for _, b := range breakers {
		out[b.Name()] = b.State().String()
	}
	return out
}
