// Package breaker implements a per-backend circuit breaker with exponential
// cooldown. Each backend gets its own breaker and lock so a slow or dead
// backend cannot stall decisions about another.
package breaker

import (
	"sync"
	"time"

	"qabot/internal/retry"
)

// Status is the breaker state machine position.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half-open"
)

// Health is the last observed liveness of the backend.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Config tunes the breaker. Zero values fall back to defaults.
type Config struct {
	// Threshold is the consecutive-failure count that trips the breaker.
	Threshold int
	// BaseBackoff is the first open cooldown; it doubles per trip.
	BaseBackoff time.Duration
	// MaxBackoff caps the cooldown growth.
	MaxBackoff time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 10 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// State is a point-in-time snapshot of one breaker, safe to serialize.
type State struct {
	Name                string        `json:"name"`
	Health              Health        `json:"health"`
	Status              Status        `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenUntil           time.Time     `json:"open_until,omitempty"`
	LastSuccess         time.Time     `json:"last_success,omitempty"`
	LastFailure         time.Time     `json:"last_failure,omitempty"`
	LastChecked         time.Time     `json:"last_checked,omitempty"`
	Latency             time.Duration `json:"-"`
}

// Breaker tracks failures for a single backend.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	name         string
	health       Health
	status       Status
	failures     int
	trips        int // consecutive trips without an intervening success
	trialPending bool
	openUntil    time.Time
	lastSuccess  time.Time
	lastFailure  time.Time
	lastChecked  time.Time
	latency      time.Duration
}

// New returns a closed breaker with zero failures.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		health: HealthUnknown,
		status: StatusClosed,
	}
}

// Allow reports whether the backend may receive traffic. An open breaker
// whose cooldown has elapsed transitions to half-open and permits exactly
// one trial call; further calls are rejected until that trial is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.cfg.Clock())

	switch b.status {
	case StatusClosed:
		return true
	case StatusHalfOpen:
		if b.trialPending {
			return false
		}
		b.trialPending = true
		return true
	default:
		return false
	}
}

// RecordSuccess registers a successful request or probe. It resets the
// consecutive-failure count and the backoff ladder, and closes a half-open
// breaker. A success during an open cooldown does not shortcut the cooldown.
func (b *Breaker) RecordSuccess(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Clock()
	b.advance(now)

	b.failures = 0
	b.lastSuccess = now
	b.lastChecked = now
	b.latency = latency
	b.health = HealthHealthy
	if b.status != StatusOpen {
		b.status = StatusClosed
		b.trips = 0
		b.trialPending = false
		b.openUntil = time.Time{}
	}
}

// RecordFailure registers a failed request or probe. Reaching the threshold
// in closed state, or any failure in half-open state, trips the breaker with
// a doubled cooldown.
func (b *Breaker) RecordFailure(latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.cfg.Clock()
	b.advance(now)

	b.failures++
	b.lastFailure = now
	b.lastChecked = now
	b.latency = latency
	b.health = HealthUnhealthy

	switch b.status {
	case StatusHalfOpen:
		b.trip(now)
	case StatusClosed:
		if b.failures >= b.cfg.Threshold {
			b.trip(now)
		}
	}
}

// Snapshot returns a copy of the current state. Repeated calls with no
// intervening events return identical results.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := b.status
	// Report an elapsed cooldown as half-open without consuming the trial.
	if status == StatusOpen && !b.cfg.Clock().Before(b.openUntil) {
		status = StatusHalfOpen
	}
	return State{
		Name:                b.name,
		Health:              b.health,
		Status:              status,
		ConsecutiveFailures: b.failures,
		OpenUntil:           b.openUntil,
		LastSuccess:         b.lastSuccess,
		LastFailure:         b.lastFailure,
		LastChecked:         b.lastChecked,
		Latency:             b.latency,
	}
}

// advance moves open to half-open once the cooldown elapses. Callers hold mu.
func (b *Breaker) advance(now time.Time) {
	if b.status == StatusOpen && !now.Before(b.openUntil) {
		b.status = StatusHalfOpen
		b.trialPending = false
	}
}

// trip opens the breaker with the next cooldown step. Callers hold mu.
func (b *Breaker) trip(now time.Time) {
	backoff := retry.CappedBackoff(b.trips, b.cfg.BaseBackoff, b.cfg.MaxBackoff)
	b.trips++
	b.status = StatusOpen
	b.trialPending = false
	b.openUntil = now.Add(backoff)
}

// Group holds one breaker per backend name. The map is immutable after
// construction; synchronization lives inside each breaker.
type Group struct {
	order    []string
	breakers map[string]*Breaker
}

// NewGroup builds a breaker per name, preserving order for snapshots.
func NewGroup(names []string, cfg Config) *Group {
	g := &Group{breakers: make(map[string]*Breaker, len(names))}
	for _, name := range names {
		g.order = append(g.order, name)
		g.breakers[name] = New(name, cfg)
	}
	return g
}

// For returns the breaker for a backend name.
func (g *Group) For(name string) *Breaker {
	return g.breakers[name]
}

// Snapshot returns per-backend states in registration order.
func (g *Group) Snapshot() []State {
	states := make([]State, 0, len(g.order))
	for _, name := range g.order {
		states = append(states, g.breakers[name].Snapshot())
	}
	return states
}
