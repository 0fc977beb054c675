package app

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/reverie/internal/config"
	"github.com/MrWong99/reverie/internal/render"
	"github.com/MrWong99/reverie/internal/session"
	"github.com/MrWong99/reverie/pkg/kvstore"
	"github.com/MrWong99/reverie/pkg/memory"
	"github.com/MrWong99/reverie/pkg/provider/gen"
	"github.com/MrWong99/reverie/pkg/provider/gen/mock"
)

func newTestApp(t *testing.T, provider gen.Provider) (*App, *bytes.Buffer) {
	t.Helper()
	store := kvstore.NewMemStore()
	ctrl := session.NewController(store, memory.NewEngine(store), provider)
	err := ctrl.SetProfile(context.Background(), session.Profile{
		UserName:      "Traveler",
		CharacterName: "Rin",
	})
	if err != nil {
		t.Fatalf("SetProfile: %v", err)
	}
	out := &bytes.Buffer{}
	return &App{
		cfg:        &config.Config{},
		logger:     slog.Default(),
		controller: ctrl,
		out:        out,
		renderer:   render.NewMarkdownRenderer(),
	}, out
}

func TestMemoryCapsOverrides(t *testing.T) {
	caps := memoryCaps(config.MemoryConfig{FactCap: 50, NoteLimit: 99})
	if caps.FactCap != 50 || caps.NoteLimit != 99 {
		t.Errorf("overrides not applied: %+v", caps)
	}
	defaults := memory.DefaultCaps()
	if caps.EventCap != defaults.EventCap || caps.FactKeep != defaults.FactKeep {
		t.Errorf("unset fields should keep defaults: %+v", caps)
	}
}

func TestBuildProfileFromCard(t *testing.T) {
	cardJSON := `{"name":"Mira","description":"A wandering bard.","personality":"Cheerful","scenario":"A port town.","first_mes":"Well met!"}`
	path := filepath.Join(t.TempDir(), "mira.json")
	if err := os.WriteFile(path, []byte(cardJSON), 0o644); err != nil {
		t.Fatalf("write card: %v", err)
	}

	p, err := buildProfile(config.CharacterConfig{UserName: "Traveler", CardPath: path})
	if err != nil {
		t.Fatalf("buildProfile: %v", err)
	}
	if p.CharacterName != "Mira" {
		t.Errorf("name = %q", p.CharacterName)
	}
	if !strings.Contains(p.Persona, "A wandering bard.") || !strings.Contains(p.Persona, "Cheerful") {
		t.Errorf("persona = %q", p.Persona)
	}
	if p.Scenario != "A port town." || p.Greeting != "Well met!" {
		t.Errorf("scenario/greeting = %q / %q", p.Scenario, p.Greeting)
	}

	// Explicit config fields win over card values.
	p, err = buildProfile(config.CharacterConfig{Name: "Rin", Persona: "Custom sheet.", CardPath: path})
	if err != nil {
		t.Fatalf("buildProfile with overrides: %v", err)
	}
	if p.CharacterName != "Rin" || p.Persona != "Custom sheet." {
		t.Errorf("overrides lost: %+v", p)
	}
}

func TestBuildBackend(t *testing.T) {
	if _, err := buildBackend(config.ProviderEntry{Name: "teleporter"}, config.SessionConfig{}, slog.Default()); err == nil {
		t.Error("unknown backend should fail")
	}
	if p, err := buildBackend(config.ProviderEntry{}, config.SessionConfig{}, slog.Default()); err != nil || p == nil {
		t.Errorf("empty entry should yield the default backend, got %v", err)
	}
}

func TestBuildProvidersWithFallbacks(t *testing.T) {
	cfg := &config.Config{
		Provider:  config.ProviderEntry{Name: "kobold"},
		Fallbacks: []config.ProviderEntry{{Name: "openrouter", APIKey: "sk-test"}},
	}
	p, name, err := buildProviders(cfg, slog.Default())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	if name != "kobold" {
		t.Errorf("backend label = %q", name)
	}
	if p == nil {
		t.Fatal("nil provider")
	}
}

func TestHandleLineCommands(t *testing.T) {
	a, out := newTestApp(t, &mock.Provider{CompleteText: "Well met."})
	ctx := context.Background()

	if quit, err := a.handleLine(ctx, "Rin", ""); quit || err != nil {
		t.Errorf("blank line: quit=%v err=%v", quit, err)
	}
	if quit, _ := a.handleLine(ctx, "Rin", "/quit"); !quit {
		t.Error("/quit should end the loop")
	}
	if _, err := a.handleLine(ctx, "Rin", "/warp"); err == nil {
		t.Error("unknown command should error")
	}

	if _, err := a.handleLine(ctx, "Rin", "Hello there"); err != nil {
		t.Fatalf("chat line: %v", err)
	}
	if !strings.Contains(out.String(), "Rin: Well met.") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if _, err := a.handleLine(ctx, "Rin", "/export"); err != nil {
		t.Fatalf("/export: %v", err)
	}
	if !strings.Contains(out.String(), "Traveler: Hello there") {
		t.Errorf("transcript output = %q", out.String())
	}
}

func TestHandleLineUndoAndClear(t *testing.T) {
	a, out := newTestApp(t, &mock.Provider{CompleteText: "Noted."})
	ctx := context.Background()

	if _, err := a.handleLine(ctx, "Rin", "typo messge"); err != nil {
		t.Fatalf("chat line: %v", err)
	}
	if _, err := a.handleLine(ctx, "Rin", "/undo"); err != nil {
		t.Fatalf("/undo: %v", err)
	}
	if !strings.Contains(out.String(), "discarded: typo messge") {
		t.Errorf("output = %q", out.String())
	}
	if len(a.controller.History()) != 0 {
		t.Errorf("history = %+v, want empty", a.controller.History())
	}
}

func TestHandleTranscriptRendersHistory(t *testing.T) {
	a, _ := newTestApp(t, &mock.Provider{CompleteText: "*waves* **Hello!**"})
	if _, err := a.controller.Submit(context.Background(), "Hi"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := httptest.NewRecorder()
	a.handleTranscript(rec, httptest.NewRequest("GET", "/transcript", nil))

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	for _, want := range []string{"<h4>Traveler</h4>", "<h4>Rin</h4>", "<em>waves</em>", "<strong>Hello!</strong>"} {
		if !strings.Contains(body, want) {
			t.Errorf("transcript missing %q in %q", want, body)
		}
	}
}
