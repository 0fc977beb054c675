package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/reverie/internal/resilience"
)

var errBackend = errors.New("backend down")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "test", Trip: 3, Cooldown: time.Hour})

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if got := b.State(); got != resilience.BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, resilience.ErrBreakerOpen) {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Error("fn was called while the breaker was open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{Trip: 2, Cooldown: time.Hour})

	b.Do(func() error { return errBackend })
	b.Do(func() error { return nil })
	b.Do(func() error { return errBackend })

	if got := b.State(); got != resilience.BreakerClosed {
		t.Errorf("state = %v, want closed after interleaved success", got)
	}
}

func TestBreakerProbeClosesOnSuccess(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{Trip: 1, Cooldown: 10 * time.Millisecond})

	b.Do(func() error { return errBackend })
	if got := b.State(); got != resilience.BreakerOpen {
		t.Fatalf("state = %v, want open", got)
	}

	time.Sleep(20 * time.Millisecond)
	if got := b.State(); got != resilience.BreakerProbing {
		t.Fatalf("state = %v, want probing after cooldown", got)
	}

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if got := b.State(); got != resilience.BreakerClosed {
		t.Errorf("state = %v, want closed after successful probe", got)
	}
}

func TestBreakerProbeReopensOnFailure(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{Trip: 1, Cooldown: 10 * time.Millisecond})

	b.Do(func() error { return errBackend })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("probe err = %v", err)
	}
	if got := b.State(); got != resilience.BreakerOpen {
		t.Errorf("state = %v, want re-opened", got)
	}
}

func TestBreakerReset(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{Trip: 1, Cooldown: time.Hour})
	b.Do(func() error { return errBackend })
	b.Reset()
	if got := b.State(); got != resilience.BreakerClosed {
		t.Errorf("state = %v, want closed after reset", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Errorf("call after reset: %v", err)
	}
}
