// Package resilience provides the fault-tolerance primitives used around
// document sources: a circuit breaker and exponential-backoff retry.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the upstream while a Breaker
// is rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase of a Breaker. Its numeric value is exported as the
// circuit breaker gauge.
type State int

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

// BreakerConfig tunes a Breaker. Zero fields take the defaults: trip after
// 5 consecutive failures, stay open 30s, then let 1 trial call through.
type BreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
	Trials    int
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Trials <= 0 {
		c.Trials = 1
	}
	return c
}

// BreakerStatus is a point-in-time view of a Breaker for health checks.
type BreakerStatus struct {
	State    State
	Failures int
	OpenedAt time.Time
	RetryIn  time.Duration
}

// Breaker stops calling an upstream, such as the corpus endpoint, after
// Threshold consecutive failures. Once Cooldown has passed it admits up to
// Trials calls; a success closes it again and a failure reopens it.
type Breaker struct {
	name   string
	cfg    BreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	return &Breaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

func (b *Breaker) Name() string {
	return b.name
}

// Do calls fn unless the breaker is rejecting calls. Permanent errors and
// the caller's own cancellation say nothing about the upstream, so they are
// recorded as successes.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err != nil && !IsPermanent(err) && ctx.Err() == nil)
	return err
}

// State returns the current phase.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := BreakerStatus{State: b.state, Failures: b.failures, OpenedAt: b.openedAt}
	if b.state == StateOpen {
		st.RetryIn = max(0, b.cfg.Cooldown-b.now().Sub(b.openedAt))
	}
	return st
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen {
		waited := b.now().Sub(b.openedAt)
		if waited < b.cfg.Cooldown {
			return fmt.Errorf("%w: %s, retry in %v", ErrCircuitOpen, b.name, b.cfg.Cooldown-waited)
		}
		b.state, b.trials = StateHalfOpen, 0
		b.logger.Info("cooldown over, admitting trial calls", "trials", b.cfg.Trials)
	}
	if b.state == StateHalfOpen {
		if b.trials >= b.cfg.Trials {
			return fmt.Errorf("%w: %s, trial call in flight", ErrCircuitOpen, b.name)
		}
		b.trials++
	}
	return nil
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !failed {
		if b.state == StateHalfOpen {
			b.logger.Info("upstream recovered, circuit closed")
		}
		b.state, b.failures, b.trials = StateClosed, 0, 0
		return
	}
	b.failures++
	switch {
	case b.state == StateHalfOpen:
		b.trip("trial call failed")
	case b.state == StateClosed && b.failures >= b.cfg.Threshold:
		b.trip("failure threshold reached")
	}
}

func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.openedAt = b.now()
	b.logger.Warn("circuit opened", "reason", reason, "consecutive_failures", b.failures, "cooldown", b.cfg.Cooldown)
}
