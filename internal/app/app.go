// Package app wires configuration, storage, memory, generation backends, and
// the session controller into a runnable chat application.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/reverie/internal/config"
	"github.com/MrWong99/reverie/internal/observe"
	"github.com/MrWong99/reverie/internal/render"
	"github.com/MrWong99/reverie/internal/resilience"
	"github.com/MrWong99/reverie/internal/session"
	"github.com/MrWong99/reverie/pkg/card"
	"github.com/MrWong99/reverie/pkg/kvstore"
	"github.com/MrWong99/reverie/pkg/memory"
	"github.com/MrWong99/reverie/pkg/provider/gen"
	"github.com/MrWong99/reverie/pkg/provider/gen/anyllm"
	"github.com/MrWong99/reverie/pkg/provider/gen/kobold"
	"github.com/MrWong99/reverie/pkg/provider/gen/openai"
	"github.com/MrWong99/reverie/pkg/provider/gen/openrouter"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

// App holds the assembled application.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	controller *session.Controller
	profile    session.Profile
	renderer   render.Renderer

	in  io.Reader
	out io.Writer

	closeStore func() error

	// streamed tracks how much of the accumulated stream has been printed.
	// Only touched from the single in-flight turn.
	streamed int
}

// New assembles the application from cfg. The context bounds startup work
// such as database connection and migration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		in:       os.Stdin,
		out:      os.Stdout,
		renderer: render.NewMarkdownRenderer(),
	}

	store, closeStore, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.closeStore = closeStore

	metrics := observe.DefaultMetrics()
	engine := memory.NewEngine(store,
		memory.WithCaps(memoryCaps(cfg.Memory)),
		memory.WithRuleHook(metrics.RecordExtractionHit),
	)

	provider, backendName, err := buildProviders(cfg, logger)
	if err != nil {
		closeStore()
		return nil, err
	}

	profile, err := buildProfile(cfg.Character)
	if err != nil {
		closeStore()
		return nil, err
	}
	a.profile = profile

	a.controller = session.NewController(store, engine, provider,
		session.WithWindow(cfg.Session.WindowTurns, cfg.Session.HistoryTurns),
		session.WithSampling(cfg.Session.MaxTokens, cfg.Session.Temperature),
		session.WithStreaming(cfg.Session.Stream),
		session.WithDeltaHandler(a.printDelta),
		session.WithBackendName(backendName),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
	)
	return a, nil
}

// Controller exposes the session controller, e.g. for embedding the app
// behind a different frontend.
func (a *App) Controller() *session.Controller {
	return a.controller
}

// Close releases resources held by the application.
func (a *App) Close() error {
	if a.closeStore != nil {
		return a.closeStore()
	}
	return nil
}

// Run restores session state and serves the interactive chat loop (plus the
// metrics endpoint when configured) until ctx is cancelled or the player
// quits.
func (a *App) Run(ctx context.Context) error {
	if err := a.controller.LoadState(ctx); err != nil {
		return fmt.Errorf("app: restore session: %w", err)
	}
	if a.controller.Profile().CharacterName == "" {
		if err := a.controller.SetProfile(ctx, a.profile); err != nil {
			return fmt.Errorf("app: activate character: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		g.Go(func() error { return a.serveHTTP(ctx, addr) })
	}
	g.Go(func() error { return a.chatLoop(ctx) })

	return g.Wait()
}

// serveHTTP exposes the Prometheus scrape endpoint and a rendered transcript
// page until ctx is cancelled.
func (a *App) serveHTTP(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/transcript", a.handleTranscript)
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("metrics endpoint listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: metrics server: %w", err)
	}
}

// handleTranscript serves the dialogue as HTML, with each message rendered
// from Markdown and sanitized.
func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request) {
	profile := a.controller.Profile()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><title>%s</title></head><body>\n",
		html.EscapeString(profile.CharacterName))

	for _, turn := range a.controller.History() {
		name := profile.CharacterName
		if turn.Role == session.RoleUser {
			name = profile.UserName
			if name == "" {
				name = "User"
			}
		}
		body, err := a.renderer.Render(turn.Content)
		if err != nil {
			a.logger.Warn("transcript render failed", "error", err)
			body = "<p>" + html.EscapeString(turn.Content) + "</p>"
		}
		fmt.Fprintf(w, "<section><h4>%s</h4>\n%s</section>\n", html.EscapeString(name), body)
	}
	fmt.Fprint(w, "</body></html>\n")
}

// chatLoop reads player input from stdin and drives the turn pipeline.
func (a *App) chatLoop(ctx context.Context) error {
	charName := a.controller.Profile().CharacterName

	if greeting, err := a.controller.Greet(ctx); err != nil {
		a.logger.Warn("greeting failed", "error", err)
	} else if greeting != "" {
		fmt.Fprintf(a.out, "%s: %s\n", charName, greeting)
	}
	fmt.Fprintln(a.out, "(type /help for commands)")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(a.out, "> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := a.handleLine(ctx, charName, line)
			if err != nil {
				fmt.Fprintf(a.out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handleLine dispatches one input line: either a slash command or a chat
// message. It reports whether the loop should exit.
func (a *App) handleLine(ctx context.Context, charName, line string) (quit bool, err error) {
	input := strings.TrimSpace(line)
	switch {
	case input == "":
		return false, nil
	case input == "/quit" || input == "/exit":
		return true, nil
	case input == "/help":
		fmt.Fprintln(a.out, "/regen  regenerate the last reply")
		fmt.Fprintln(a.out, "/undo   discard your last message and its reply")
		fmt.Fprintln(a.out, "/clear  clear the dialogue, keep memories")
		fmt.Fprintln(a.out, "/reset  wipe dialogue and memories")
		fmt.Fprintln(a.out, "/export print the transcript")
		fmt.Fprintln(a.out, "/quit   exit")
		return false, nil
	case input == "/regen":
		reply, err := a.controller.Regenerate(ctx)
		if err != nil {
			return false, err
		}
		a.printReply(charName, reply)
		return false, nil
	case input == "/undo":
		discarded, err := a.controller.DiscardFromLastUser(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "(discarded: %s)\n", discarded)
		return false, nil
	case input == "/clear":
		if err := a.controller.ClearHistory(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(a.out, "(dialogue cleared)")
		return false, nil
	case input == "/reset":
		if err := a.controller.Reset(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(a.out, "(dialogue and memories wiped)")
		return false, nil
	case input == "/export":
		fmt.Fprintln(a.out, a.controller.ExportTranscript())
		return false, nil
	case strings.HasPrefix(input, "/"):
		return false, fmt.Errorf("unknown command %q; try /help", input)
	}

	a.streamed = 0
	if a.cfg.Session.Stream {
		fmt.Fprintf(a.out, "%s: ", charName)
	}
	reply, err := a.controller.Submit(ctx, input)
	if err != nil {
		if a.cfg.Session.Stream {
			fmt.Fprintln(a.out)
		}
		return false, err
	}
	if a.cfg.Session.Stream {
		// The raw stream was already printed; terminate the line.
		fmt.Fprintln(a.out)
		return false, nil
	}
	a.printReply(charName, reply)
	return false, nil
}

func (a *App) printReply(charName, reply string) {
	if reply != "" {
		fmt.Fprintf(a.out, "%s: %s\n", charName, reply)
	}
}

// printDelta prints the unseen tail of the accumulated stream text.
func (a *App) printDelta(accumulated string) {
	if len(accumulated) < a.streamed {
		a.streamed = 0
	}
	fmt.Fprint(a.out, accumulated[a.streamed:])
	a.streamed = len(accumulated)
}

// buildStore constructs the persistence backend selected by cfg.
func buildStore(ctx context.Context, cfg config.StoreConfig) (kvstore.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case "", config.StoreMemory:
		return kvstore.NewMemStore(), noop, nil
	case config.StoreFile:
		s, err := kvstore.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("app: file store: %w", err)
		}
		return s, noop, nil
	case config.StoreSQLite:
		s, err := kvstore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("app: sqlite store: %w", err)
		}
		return s, s.Close, nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("app: postgres pool: %w", err)
		}
		s := kvstore.NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("app: postgres migrate: %w", err)
		}
		return s, func() error { pool.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown store backend %q", cfg.Backend)
	}
}

// memoryCaps merges configured overrides onto the default cap policy.
func memoryCaps(m config.MemoryConfig) memory.Caps {
	caps := memory.DefaultCaps()
	if m.FactCap > 0 {
		caps.FactCap = m.FactCap
	}
	if m.FactKeep > 0 {
		caps.FactKeep = m.FactKeep
	}
	if m.EventCap > 0 {
		caps.EventCap = m.EventCap
	}
	if m.EventKeep > 0 {
		caps.EventKeep = m.EventKeep
	}
	if m.RelationshipCap > 0 {
		caps.RelationshipCap = m.RelationshipCap
	}
	if m.NoteLimit > 0 {
		caps.NoteLimit = m.NoteLimit
	}
	return caps
}

// buildProviders constructs the primary generation backend and, when
// fallbacks are configured, wraps the whole set in a breaker-guarded chain.
// It returns the provider and the label used for metrics.
func buildProviders(cfg *config.Config, logger *slog.Logger) (gen.Provider, string, error) {
	primaryName := cfg.Provider.Name
	if primaryName == "" {
		primaryName = "kobold"
	}
	primary, err := buildBackend(cfg.Provider, cfg.Session, logger)
	if err != nil {
		return nil, "", fmt.Errorf("app: provider %q: %w", primaryName, err)
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, primaryName, nil
	}

	chain := resilience.NewGenFallback(primary, primaryName, resilience.BreakerConfig{Name: primaryName})
	for i, entry := range cfg.Fallbacks {
		fb, err := buildBackend(entry, cfg.Session, logger)
		if err != nil {
			return nil, "", fmt.Errorf("app: fallback[%d] %q: %w", i, entry.Name, err)
		}
		chain.Append(entry.Name, fb)
	}
	logger.Info("generation fallback chain ready", "backends", chain.Backends())
	return chain, primaryName, nil
}

// buildBackend constructs one generation backend from its config entry.
func buildBackend(entry config.ProviderEntry, sess config.SessionConfig, logger *slog.Logger) (gen.Provider, error) {
	switch entry.Name {
	case "", "kobold":
		return kobold.NewClient(
			kobold.WithEndpoint(entry.BaseURL),
			kobold.WithTimeout(sess.BlockingTimeout),
		), nil
	case "openrouter":
		return openrouter.NewClient(entry.APIKey,
			openrouter.WithBaseURL(entry.BaseURL),
			openrouter.WithModel(entry.Model),
			openrouter.WithTimeouts(sess.BlockingTimeout, sess.StreamTimeout),
			openrouter.WithAttribution("https://github.com/MrWong99/reverie", "Reverie"),
			openrouter.WithLogger(logger),
		)
	case "openai":
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if sess.BlockingTimeout > 0 {
			opts = append(opts, openai.WithTimeout(sess.BlockingTimeout))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	case "anyllm":
		family := "openai"
		if v, ok := entry.Options["provider"].(string); ok && v != "" {
			family = v
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(family, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown backend %q", entry.Name)
	}
}

// buildProfile assembles the session profile from the character config,
// optionally loading a character card. Explicit config fields win over card
// values.
func buildProfile(cfg config.CharacterConfig) (session.Profile, error) {
	p := session.Profile{
		UserName:      cfg.UserName,
		CharacterName: cfg.Name,
		Persona:       cfg.Persona,
		Scenario:      cfg.Scenario,
		PlayerNotes:   cfg.PlayerNotes,
		Template:      cfg.PromptTemplate,
		Greeting:      cfg.Greeting,
	}
	if cfg.CardPath == "" {
		return p, nil
	}

	raw, err := os.ReadFile(cfg.CardPath)
	if err != nil {
		return session.Profile{}, fmt.Errorf("app: read character card %q: %w", cfg.CardPath, err)
	}
	c, err := card.Decode(raw)
	if err != nil {
		return session.Profile{}, fmt.Errorf("app: decode character card %q: %w", cfg.CardPath, err)
	}

	if p.CharacterName == "" {
		p.CharacterName = c.Name
	}
	if p.Persona == "" {
		p.Persona = cardPersona(c)
	}
	if p.Scenario == "" {
		p.Scenario = c.Scenario
	}
	if p.Greeting == "" {
		p.Greeting = c.FirstMessage
	}
	return p, nil
}

// cardPersona joins a card's description and personality into one sheet.
func cardPersona(c *card.Character) string {
	parts := make([]string, 0, 2)
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	if c.Personality != "" {
		parts = append(parts, "Personality: "+c.Personality)
	}
	return strings.Join(parts, "\n")
}
