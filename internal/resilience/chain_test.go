package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/reverie/internal/resilience"
	"github.com/MrWong99/reverie/pkg/provider/gen"
	"github.com/MrWong99/reverie/pkg/provider/gen/mock"
)

func TestChainFallsThroughToHealthyBackend(t *testing.T) {
	c := resilience.NewChain("primary", "a", resilience.BreakerConfig{Trip: 5, Cooldown: time.Hour})
	c.Append("b", "secondary")

	var tried []string
	got, err := resilience.TryResult(c, func(v string) (string, error) {
		tried = append(tried, v)
		if v == "primary" {
			return "", errBackend
		}
		return "ok from " + v, nil
	})
	if err != nil {
		t.Fatalf("TryResult: %v", err)
	}
	if got != "ok from secondary" {
		t.Errorf("result = %q", got)
	}
	if len(tried) != 2 || tried[0] != "primary" {
		t.Errorf("try order = %v", tried)
	}
}

func TestChainExhaustedWrapsLastError(t *testing.T) {
	c := resilience.NewChain("only", "a", resilience.BreakerConfig{Trip: 5, Cooldown: time.Hour})
	err := c.Try(func(string) error { return errBackend })
	if !errors.Is(err, resilience.ErrChainExhausted) {
		t.Errorf("err = %v, want ErrChainExhausted", err)
	}
	if !errors.Is(err, errBackend) {
		t.Errorf("err = %v, want the last backend error wrapped", err)
	}
}

func TestChainSkipsOpenBreaker(t *testing.T) {
	c := resilience.NewChain("flaky", "a", resilience.BreakerConfig{Trip: 1, Cooldown: time.Hour})
	c.Append("b", "steady")

	// Trip the primary's breaker.
	c.Try(func(v string) error {
		if v == "flaky" {
			return errBackend
		}
		return nil
	})

	var tried []string
	err := c.Try(func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if err != nil {
		t.Fatalf("Try: %v", err)
	}
	if len(tried) != 1 || tried[0] != "steady" {
		t.Errorf("tried = %v, want only the fallback", tried)
	}
}

func TestGenFallbackComplete(t *testing.T) {
	primary := &mock.Provider{CompleteErr: errBackend}
	backup := &mock.Provider{CompleteText: "rescued"}

	f := resilience.NewGenFallback(primary, "primary", resilience.BreakerConfig{Trip: 5, Cooldown: time.Hour})
	f.Append("backup", backup)

	text, err := f.Complete(context.Background(), gen.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "rescued" {
		t.Errorf("text = %q", text)
	}
	if len(primary.CompleteCalls) != 1 || len(backup.CompleteCalls) != 1 {
		t.Errorf("calls: primary=%d backup=%d", len(primary.CompleteCalls), len(backup.CompleteCalls))
	}
}

func TestGenFallbackStream(t *testing.T) {
	primary := &mock.Provider{StreamErr: errBackend}
	backup := &mock.Provider{StreamChunks: []gen.Chunk{{Text: "hi", FinishReason: "stop"}}}

	f := resilience.NewGenFallback(primary, "primary", resilience.BreakerConfig{Trip: 5, Cooldown: time.Hour})
	f.Append("backup", backup)

	ch, err := f.Stream(context.Background(), gen.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	chunk := <-ch
	if chunk.Text != "hi" {
		t.Errorf("chunk = %+v", chunk)
	}
}

func TestGenFallbackBackendsOrder(t *testing.T) {
	f := resilience.NewGenFallback(&mock.Provider{}, "one", resilience.BreakerConfig{})
	f.Append("two", &mock.Provider{})
	names := f.Backends()
	if len(names) != 2 || names[0] != "one" || names[1] != "two" {
		t.Errorf("backends = %v", names)
	}
}
