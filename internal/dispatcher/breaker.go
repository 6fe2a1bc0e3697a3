// Package dispatcher selects an upstream provider for a canonical
// request, executes it behind a per-upstream circuit breaker, and
// retries through a configured fallback provider on qualifying failures.
package dispatcher

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current disposition.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerStats accumulates lifetime counters for observability.
type BreakerStats struct {
	Requests int64
	Failures int64
	Successes int64
	Rejected int64
}

// BreakerConfig tunes one breaker instance.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// Breaker is a per-upstream circuit breaker: CLOSED counts consecutive
// failures until FailureThreshold trips it OPEN; OPEN rejects everything
// until OpenTimeout elapses, then moves to HALF_OPEN, where Allow lets
// every call through (concurrent HALF_OPEN calls are not limited to one);
// SuccessThreshold consecutive successes close it again, and any single
// failure in HALF_OPEN reopens it.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	mu     sync.Mutex
	state  BreakerState
	fails  int
	succ   int
	nextAt time.Time
	stats  BreakerStats
}

// NewBreaker constructs a breaker in the CLOSED state.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 60 * time.Second
	}
	return &Breaker{name: name, cfg: cfg, state: StateClosed}
}

// ErrCircuitOpen is returned by Allow when the breaker is rejecting calls.
type ErrCircuitOpen struct {
	Upstream   string
	RetryAfter time.Duration
}

func (e *ErrCircuitOpen) Error() string {
	return "dispatcher: circuit open for " + e.Upstream
}

// Allow reports whether a call may proceed now, transitioning OPEN→HALF_OPEN
// once the timeout has elapsed. Call exactly once immediately before
// attempting the upstream invocation.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Requests++

	switch b.state {
	case StateOpen:
		if time.Now().Before(b.nextAt) {
			b.stats.Rejected++
			return &ErrCircuitOpen{Upstream: b.name, RetryAfter: time.Until(b.nextAt)}
		}
		b.state = StateHalfOpen
		b.succ = 0
		return nil
	default:
		return nil
	}
}

// RecordSuccess registers a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Successes++

	switch b.state {
	case StateHalfOpen:
		b.succ++
		if b.succ >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.fails = 0
			b.succ = 0
		}
	case StateClosed:
		b.fails = 0
	}
}

// RecordFailure registers a failed call outcome.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Failures++

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.fails++
		if b.fails >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

// RecordIndeterminate records an outcome that is neither success nor
// failure (e.g. context cancelled mid-call because of shutdown) — it
// updates no counters, per spec §9's shutdown open question.
func (b *Breaker) RecordIndeterminate() {}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.fails = 0
	b.succ = 0
	b.nextAt = time.Now().Add(b.cfg.OpenTimeout)
}

// State returns the current state and stats snapshot.
func (b *Breaker) State() (BreakerState, BreakerStats, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.stats, b.nextAt
}

// Registry owns one Breaker per upstream name.
type Registry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewRegistry constructs an empty registry using cfg for every breaker it
// lazily creates.
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns (creating if necessary) the breaker for the named upstream.
func (r *Registry) For(upstream string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[upstream]
	if !ok {
		b = NewBreaker(upstream, r.cfg)
		r.breakers[upstream] = b
	}
	return b
}

// Snapshot returns a point-in-time view of every known breaker's state,
// used by the /health/live?verbose=1 projection.
func (r *Registry) Snapshot() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		state, _, _ := b.State()
		out[name] = state
	}
	return out
}
