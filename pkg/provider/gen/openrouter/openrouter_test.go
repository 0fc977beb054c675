package openrouter_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/reverie/pkg/provider/gen"
	"github.com/MrWong99/reverie/pkg/provider/gen/openrouter"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := openrouter.NewClient("")
	if !errors.Is(err, gen.ErrConfig) {
		t.Errorf("NewClient(\"\") error = %v, want ErrConfig", err)
	}
}

func TestCompleteSendsAuthAndAttribution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("HTTP-Referer"); got != "https://example.test" {
			t.Errorf("referer = %q", got)
		}
		if got := r.Header.Get("X-Title"); got != "Reverie" {
			t.Errorf("title = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["model"] != "test/model" {
			t.Errorf("model = %v", body["model"])
		}
		msgs := body["messages"].([]any)
		first := msgs[0].(map[string]any)
		if first["role"] != "system" {
			t.Errorf("first message role = %v, want system", first["role"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "A quiet reply."}, "finish_reason": "stop"},
			},
		})
	}))
	defer srv.Close()

	c, err := openrouter.NewClient("sk-test",
		openrouter.WithBaseURL(srv.URL),
		openrouter.WithModel("test/model"),
		openrouter.WithAttribution("https://example.test", "Reverie"),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	text, err := c.Complete(context.Background(), gen.Request{
		System:  "stay in character",
		History: []gen.Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "A quiet reply." {
		t.Errorf("text = %q", text)
	}
}

func TestCompleteSurfacesInlineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "model overloaded", "code": 502},
		})
	}))
	defer srv.Close()

	c, err := openrouter.NewClient("sk-test", openrouter.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Complete(context.Background(), gen.Request{Prompt: "p"})
	if !errors.Is(err, gen.ErrProtocol) || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("error = %v, want wrapped inline error", err)
	}
}

func TestStreamDeliversDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Errorf("stream = %v, want true", body["stream"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, delta := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
			fl.Flush()
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fl.Flush()
	}))
	defer srv.Close()

	c, err := openrouter.NewClient("sk-test", openrouter.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ch, err := c.Stream(context.Background(), gen.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text strings.Builder
	finish := ""
	for chunk := range ch {
		text.WriteString(chunk.Text)
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}
	if text.String() != "Hello" {
		t.Errorf("accumulated = %q, want %q", text.String(), "Hello")
	}
	if finish != "stop" {
		t.Errorf("finish reason = %q, want stop", finish)
	}
}

func TestStreamErrorBeforeStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := openrouter.NewClient("sk-bad", openrouter.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Stream(context.Background(), gen.Request{Prompt: "p"})
	if !errors.Is(err, gen.ErrNetwork) {
		t.Errorf("error = %v, want ErrNetwork before stream start", err)
	}
}

func TestStreamErrorAfterStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"part\"}}]}\n\n")
		fl.Flush()
		fmt.Fprint(w, "data: {\"error\":{\"message\":\"stream broke\"}}\n\n")
		fl.Flush()
	}))
	defer srv.Close()

	c, err := openrouter.NewClient("sk-test", openrouter.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ch, err := c.Stream(context.Background(), gen.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var chunks []gen.Chunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	last := chunks[len(chunks)-1]
	if last.FinishReason != "error" || !strings.Contains(last.Text, "stream broke") {
		t.Errorf("final chunk = %+v, want error chunk", last)
	}
}
