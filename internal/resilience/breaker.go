// Package resilience provides the failover machinery between generation
// backends: a three-state circuit breaker and a generic fallback chain with
// one breaker per backend.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and
// its cooldown has not elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker is open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards all calls.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cooldown
	// elapses.
	BreakerOpen

	// BreakerProbing allows a single probe call after the cooldown. Success
	// closes the breaker, failure re-opens it.
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero-value fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in log messages.
	Name string

	// Trip is the number of consecutive failures that opens the breaker.
	// Default: 3.
	Trip int

	// Cooldown is how long the breaker stays open before allowing a probe.
	// Default: 30s.
	Cooldown time.Duration
}

// Breaker is a three-state circuit breaker (closed, open, probing).
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Trip <= 0 {
		cfg.Trip = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:     cfg.Name,
		trip:     cfg.Trip,
		cooldown: cfg.Cooldown,
	}
}

// Do runs fn if the breaker allows it. While open it returns
// [ErrBreakerOpen] without calling fn; after the cooldown a single call is
// let through as a probe.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerProbing
		b.probing = false
		slog.Info("breaker cooldown elapsed, probing", "name", b.name)
		fallthrough
	case BreakerProbing:
		if b.probing {
			// A probe is already in flight.
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.probing = true
	}
	isProbe := b.state == BreakerProbing
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if isProbe {
		b.probing = false
	}
	if err != nil {
		b.onFailure(isProbe)
	} else {
		b.onSuccess(isProbe)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(isProbe bool) {
	if isProbe {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		slog.Warn("breaker probe failed, re-opening", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.trip {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(isProbe bool) {
	b.failures = 0
	if isProbe {
		b.state = BreakerClosed
		slog.Info("breaker closed after successful probe", "name", b.name)
	}
}

// State returns the breaker's current state. An open breaker whose cooldown
// has elapsed reports [BreakerProbing]; the transition itself happens on the
// next [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cooldown {
		return BreakerProbing
	}
	return b.state
}

// Reset forces the breaker back to closed and clears failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}
