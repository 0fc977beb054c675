package kobold_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/reverie/pkg/provider/gen"
	"github.com/MrWong99/reverie/pkg/provider/gen/kobold"
)

func TestCompleteSendsExpectedPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"text": " A wary nod."}},
		})
	}))
	defer srv.Close()

	c := kobold.NewClient(kobold.WithEndpoint(srv.URL))
	text, err := c.Complete(context.Background(), gen.Request{
		Prompt: "Rin:",
		Stop:   []string{"Traveler:", "\nTraveler:"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != " A wary nod." {
		t.Errorf("text = %q", text)
	}

	if got["prompt"] != "Rin:" {
		t.Errorf("prompt = %v", got["prompt"])
	}
	if got["max_length"] != float64(220) {
		t.Errorf("max_length = %v, want 220", got["max_length"])
	}
	if got["top_p"] != 0.9 {
		t.Errorf("top_p = %v, want 0.9", got["top_p"])
	}
	if got["rep_pen"] != 1.05 {
		t.Errorf("rep_pen = %v, want 1.05", got["rep_pen"])
	}
	if got["do_sample"] != true {
		t.Errorf("do_sample = %v, want true", got["do_sample"])
	}
	stops, ok := got["stop_sequence"].([]any)
	if !ok || len(stops) != 2 {
		t.Errorf("stop_sequence = %v, want both stops", got["stop_sequence"])
	}
}

func TestCompleteGreedyDecodingDisablesSampling(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	c := kobold.NewClient(kobold.WithEndpoint(srv.URL))
	_, err := c.Complete(context.Background(), gen.Request{Prompt: "p", DisableSampling: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got["do_sample"] != false {
		t.Errorf("do_sample = %v, want false", got["do_sample"])
	}
}

func TestCompleteFallsBackToFlatTextField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": "flat shape"})
	}))
	defer srv.Close()

	c := kobold.NewClient(kobold.WithEndpoint(srv.URL))
	text, err := c.Complete(context.Background(), gen.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "flat shape" {
		t.Errorf("text = %q", text)
	}
}

func TestCompleteErrorClassification(t *testing.T) {
	t.Run("server failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := kobold.NewClient(kobold.WithEndpoint(srv.URL))
		_, err := c.Complete(context.Background(), gen.Request{Prompt: "p"})
		if !errors.Is(err, gen.ErrNetwork) {
			t.Errorf("error = %v, want ErrNetwork", err)
		}
	})

	t.Run("empty response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
		}))
		defer srv.Close()

		c := kobold.NewClient(kobold.WithEndpoint(srv.URL))
		_, err := c.Complete(context.Background(), gen.Request{Prompt: "p"})
		if !errors.Is(err, gen.ErrProtocol) {
			t.Errorf("error = %v, want ErrProtocol", err)
		}
	})

	t.Run("empty prompt", func(t *testing.T) {
		c := kobold.NewClient()
		_, err := c.Complete(context.Background(), gen.Request{})
		if !errors.Is(err, gen.ErrConfig) {
			t.Errorf("error = %v, want ErrConfig", err)
		}
	})
}

func TestStreamDeliversSingleChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{{"text": "all at once"}},
		})
	}))
	defer srv.Close()

	c := kobold.NewClient(kobold.WithEndpoint(srv.URL))
	ch, err := c.Stream(context.Background(), gen.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var chunks []gen.Chunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "all at once" || chunks[0].FinishReason != "stop" {
		t.Errorf("chunk = %+v", chunks[0])
	}
}
