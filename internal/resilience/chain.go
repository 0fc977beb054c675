package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrChainExhausted is returned when every backend in a [Chain] failed or
// had an open breaker.
var ErrChainExhausted = errors.New("resilience: all backends failed")

type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain orders a primary and zero or more fallback instances of the same
// backend type, each guarded by its own [Breaker]. Calls go to the first
// entry whose breaker admits them; failures move on to the next entry.
type Chain[T any] struct {
	entries []chainEntry[T]
	breaker BreakerConfig
}

// NewChain creates a [Chain] with primary as its first entry. breaker is the
// per-entry breaker configuration; its Name field is overwritten per entry.
func NewChain[T any](primary T, name string, breaker BreakerConfig) *Chain[T] {
	c := &Chain[T]{breaker: breaker}
	c.add(name, primary)
	return c
}

// Append registers an additional fallback backend. Entries are tried in
// registration order.
func (c *Chain[T]) Append(name string, value T) {
	c.add(name, value)
}

func (c *Chain[T]) add(name string, value T) {
	cfg := c.breaker
	cfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Names returns the backend names in try order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Try runs fn against each entry in order until one succeeds. Entries with
// open breakers are skipped. When every entry fails, the last error is
// wrapped in [ErrChainExhausted].
func (c *Chain[T]) Try(fn func(T) error) error {
	_, err := TryResult(c, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// TryResult runs fn against each entry of c in order until one succeeds and
// returns its result. A package-level function because Go methods cannot
// introduce type parameters.
func TryResult[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range c.entries {
		entry := &c.entries[i]
		var result R
		err := entry.breaker.Do(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping backend, breaker open", "backend", entry.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", entry.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %w", ErrChainExhausted, lastErr)
}
