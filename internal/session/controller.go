package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/reverie/internal/observe"
	"github.com/MrWong99/reverie/internal/prompt"
	"github.com/MrWong99/reverie/internal/sanitize"
	"github.com/MrWong99/reverie/pkg/kvstore"
	"github.com/MrWong99/reverie/pkg/memory"
	"github.com/MrWong99/reverie/pkg/provider/gen"
)

// stateKey is the blob-store key holding the persisted session snapshot.
const stateKey = "session:state"

// Dialogue window defaults.
const (
	defaultWindowTurns  = 8
	defaultHistoryTurns = 12
)

// Controller owns one chat session: profile, history, and the single-flight
// turn pipeline. All methods are safe for concurrent use; at most one
// generation runs at a time and concurrent turn attempts fail fast with
// [ErrBusy].
type Controller struct {
	store    kvstore.Store
	engine   *memory.Engine
	provider gen.Provider

	mu         sync.Mutex
	generating bool
	profile    Profile
	history    []Turn

	windowTurns  int
	historyTurns int
	maxTokens    int
	temperature  float64
	streaming    bool
	backendName  string

	onDelta func(accumulated string)
	logger  *slog.Logger
	metrics *observe.Metrics
	now     func() time.Time

	// memEntries is the entry count last reported to the metrics gauge.
	memEntries int64
}

// Option is a functional option for [NewController].
type Option func(*Controller)

// WithWindow overrides the dialogue window sizes: window is rendered into
// the prompt text, history is sent as structured messages.
func WithWindow(window, history int) Option {
	return func(c *Controller) {
		if window > 0 {
			c.windowTurns = window
		}
		if history > 0 {
			c.historyTurns = history
		}
	}
}

// WithSampling sets the generation length bound and temperature.
func WithSampling(maxTokens int, temperature float64) Option {
	return func(c *Controller) {
		c.maxTokens = maxTokens
		c.temperature = temperature
	}
}

// WithStreaming selects streaming generation.
func WithStreaming(enabled bool) Option {
	return func(c *Controller) { c.streaming = enabled }
}

// WithDeltaHandler registers a callback invoked with the accumulated raw
// text every time a streamed chunk arrives. Only used when streaming.
func WithDeltaHandler(fn func(accumulated string)) Option {
	return func(c *Controller) { c.onDelta = fn }
}

// WithBackendName labels the provider in metrics and logs.
func WithBackendName(name string) Option {
	return func(c *Controller) {
		if name != "" {
			c.backendName = name
		}
	}
}

// WithLogger overrides the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides the controller's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a [Controller]. No profile is active until
// [Controller.SetProfile] or [Controller.LoadState] is called.
func NewController(store kvstore.Store, engine *memory.Engine, provider gen.Provider, opts ...Option) *Controller {
	c := &Controller{
		store:        store,
		engine:       engine,
		provider:     provider,
		windowTurns:  defaultWindowTurns,
		historyTurns: defaultHistoryTurns,
		backendName:  "primary",
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetProfile activates a persona, re-scoping the memory engine to the
// character's document and persisting the new session state.
func (c *Controller) SetProfile(ctx context.Context, p Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generating {
		return ErrBusy
	}
	if p.CharacterName == "" {
		return fmt.Errorf("session: profile has no character name")
	}
	if err := c.engine.SetCharacter(ctx, p.CharacterName); err != nil {
		return err
	}
	c.profile = p
	return c.persistState(ctx)
}

// LoadState restores a previously persisted session snapshot. A missing
// snapshot is not an error; the session simply starts fresh.
func (c *Controller) LoadState(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := c.store.Get(ctx, stateKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("session: load state: %w", err)
	}
	var st state
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return fmt.Errorf("session: decode state: %w", err)
	}
	if st.Profile.CharacterName != "" {
		if err := c.engine.SetCharacter(ctx, st.Profile.CharacterName); err != nil {
			return err
		}
	}
	c.profile = st.Profile
	c.history = st.History
	return nil
}

// Profile returns the active profile.
func (c *Controller) Profile() Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// Busy reports whether a generation is currently in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generating
}

// History returns a copy of the committed dialogue.
func (c *Controller) History() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.history))
	copy(out, c.history)
	return out
}

// Greet seeds an empty session with the character's first message and
// returns it. A session that already has history is left untouched and the
// empty string is returned.
func (c *Controller) Greet(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generating {
		return "", ErrBusy
	}
	if c.profile.CharacterName == "" {
		return "", ErrNoCharacter
	}
	if len(c.history) > 0 {
		return "", nil
	}

	greeting := c.profile.Greeting
	if greeting == "" {
		greeting = fmt.Sprintf("Hello %s. I am %s. Shall we continue the story?",
			c.userName(), c.profile.CharacterName)
	}
	c.history = append(c.history, Turn{Role: RoleAssistant, Content: greeting, Timestamp: c.now()})
	if err := c.persistState(ctx); err != nil {
		return "", err
	}
	return greeting, nil
}

// Submit runs one full chat turn for the user's message and returns the
// character's reply. Empty input is silently ignored. Generation failures do
// not propagate: the turn commits an in-character fallback reply instead and
// the cause is logged.
func (c *Controller) Submit(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	if c.generating {
		c.mu.Unlock()
		return "", ErrBusy
	}
	if c.profile.CharacterName == "" {
		c.mu.Unlock()
		return "", ErrNoCharacter
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.mu.Unlock()
		return "", nil
	}
	c.generating = true
	started := c.now()

	c.history = append(c.history, Turn{Role: RoleUser, Content: text, Timestamp: started})
	if err := c.persistState(ctx); err != nil {
		c.logger.Warn("persisting session state failed", "error", err)
	}
	if err := c.engine.ExtractFromUserMessage(ctx, text); err != nil {
		c.logger.Warn("user-message extraction failed", "error", err)
	}
	if err := c.engine.Prune(ctx); err != nil {
		c.logger.Warn("memory prune failed", "error", err)
	}
	req := c.buildRequest()
	c.mu.Unlock()

	raw, genErr := c.invoke(ctx, req)
	return c.commitReply(ctx, started, raw, genErr)
}

// Regenerate discards the trailing character reply (if any) and generates a
// new one from the same user message.
func (c *Controller) Regenerate(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.generating {
		c.mu.Unlock()
		return "", ErrBusy
	}
	if c.profile.CharacterName == "" {
		c.mu.Unlock()
		return "", ErrNoCharacter
	}
	if n := len(c.history); n > 0 && c.history[n-1].Role == RoleAssistant {
		c.history = c.history[:n-1]
	}
	if len(c.history) == 0 || c.history[len(c.history)-1].Role != RoleUser {
		c.mu.Unlock()
		return "", fmt.Errorf("session: no user message to regenerate from")
	}
	c.generating = true
	started := c.now()
	req := c.buildRequest()
	c.mu.Unlock()

	raw, genErr := c.invoke(ctx, req)
	return c.commitReply(ctx, started, raw, genErr)
}

// DiscardFromLastUser removes the most recent user turn and everything after
// it, returning the discarded user text so a frontend can prefill an edit
// box. An empty string is returned when there is no user turn.
func (c *Controller) DiscardFromLastUser(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generating {
		return "", ErrBusy
	}
	for i := len(c.history) - 1; i >= 0; i-- {
		if c.history[i].Role != RoleUser {
			continue
		}
		discarded := c.history[i].Content
		c.history = c.history[:i]
		if err := c.persistState(ctx); err != nil {
			return "", err
		}
		return discarded, nil
	}
	return "", nil
}

// ClearHistory drops the dialogue but keeps the character's long-term
// memory.
func (c *Controller) ClearHistory(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generating {
		return ErrBusy
	}
	c.history = nil
	return c.persistState(ctx)
}

// Reset clears both the dialogue and the character's long-term memory.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generating {
		return ErrBusy
	}
	if err := c.engine.Reset(ctx); err != nil {
		return err
	}
	c.reportMemoryEntries(ctx)
	c.history = nil
	return c.persistState(ctx)
}

// ExportTranscript renders the dialogue as plain text, one speaker-prefixed
// paragraph per turn.
func (c *Controller) ExportTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	for i, t := range c.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		speaker := c.profile.CharacterName
		if t.Role == RoleUser {
			speaker = c.userName()
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

// buildRequest compiles the prompt and assembles the generation request.
// Must be called with c.mu held.
func (c *Controller) buildRequest() gen.Request {
	window := c.lastTurns(c.windowTurns)
	dialogue := make([]prompt.DialogueTurn, len(window))
	for i, t := range window {
		dialogue[i] = prompt.DialogueTurn{Role: t.Role, Content: t.Content}
	}

	vars := map[string]string{
		prompt.VarCharName:    c.profile.CharacterName,
		prompt.VarUserName:    c.userName(),
		prompt.VarPersona:     orElse(c.profile.Persona, "(no sheet)"),
		prompt.VarScenario:    orElse(c.profile.Scenario, "(no world rules)"),
		prompt.VarPlayerNotes: orElse(c.profile.PlayerNotes, "(none)"),
		prompt.VarMemory:      c.engine.Summarize(),
		prompt.VarDialogue:    prompt.FormatDialogue(dialogue, c.userName(), c.profile.CharacterName),
	}
	template := c.profile.Template
	if template == "" {
		template = prompt.DefaultTemplate
	}
	compiled := prompt.Compile(template, vars)

	var history []gen.Message
	for _, t := range c.lastTurns(c.historyTurns) {
		history = append(history, gen.Message{Role: t.Role, Content: t.Content})
	}

	return gen.Request{
		System:      compiled,
		Prompt:      compiled,
		History:     history,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stop:        sanitize.StopSequences(c.userName(), c.profile.CharacterName),
	}
}

// invoke runs the generation without holding the mutex. Streamed chunks are
// accumulated and relayed to the delta handler; a chunk with FinishReason
// "error" fails the whole generation.
func (c *Controller) invoke(ctx context.Context, req gen.Request) (string, error) {
	started := time.Now()
	raw, err := c.doInvoke(ctx, req)
	if c.metrics != nil {
		c.metrics.RecordGeneration(ctx, c.backendName, time.Since(started).Seconds(), err != nil)
	}
	return raw, err
}

func (c *Controller) doInvoke(ctx context.Context, req gen.Request) (string, error) {
	if !c.streaming {
		return c.provider.Complete(ctx, req)
	}

	ch, err := c.provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	var accumulated strings.Builder
	for chunk := range ch {
		if chunk.FinishReason == "error" {
			return "", fmt.Errorf("session: stream failed: %s", chunk.Text)
		}
		if chunk.Text == "" {
			continue
		}
		accumulated.WriteString(chunk.Text)
		if c.onDelta != nil {
			c.onDelta(accumulated.String())
		}
	}
	return accumulated.String(), nil
}

// commitReply finishes a turn: sanitizes and commits the reply (or the
// in-character fallback on generation failure), runs assistant-side
// extraction, and persists. Generation failures never propagate to the
// caller.
func (c *Controller) commitReply(ctx context.Context, started time.Time, raw string, genErr error) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generating = false

	outcome := "ok"
	var reply string
	if genErr != nil {
		outcome = "fallback"
		reply = fmt.Sprintf("%s is having trouble responding right now. (Check API URL or connection)",
			c.profile.CharacterName)
		c.logger.Error("generation failed, committing fallback reply",
			"backend", c.backendName, "error", genErr)
	} else {
		reply = sanitize.Clean(raw, c.userName(), c.profile.CharacterName)
	}

	c.history = append(c.history, Turn{Role: RoleAssistant, Content: reply, Timestamp: c.now()})

	if genErr == nil {
		if err := c.engine.ExtractFromAssistantMessage(ctx, reply); err != nil {
			c.logger.Warn("assistant-message extraction failed", "error", err)
		}
	}
	if err := c.persistState(ctx); err != nil {
		c.logger.Warn("persisting session state failed", "error", err)
	}
	c.reportMemoryEntries(ctx)
	if c.metrics != nil {
		c.metrics.RecordTurn(ctx, outcome, c.now().Sub(started).Seconds())
	}
	return reply, nil
}

// reportMemoryEntries pushes the change in the active document's entry count
// to the metrics gauge. Must be called with c.mu held.
func (c *Controller) reportMemoryEntries(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	doc := c.engine.Document()
	if doc == nil {
		return
	}
	count := int64(len(doc.Facts) + len(doc.World) + len(doc.Events) + len(doc.Relationships))
	c.metrics.AddMemoryEntries(ctx, count-c.memEntries)
	c.memEntries = count
}

// persistState writes the session snapshot. Must be called with c.mu held.
func (c *Controller) persistState(ctx context.Context) error {
	raw, err := json.Marshal(state{Profile: c.profile, History: c.history})
	if err != nil {
		return fmt.Errorf("session: encode state: %w", err)
	}
	if err := c.store.Set(ctx, stateKey, string(raw)); err != nil {
		return fmt.Errorf("session: persist state: %w", err)
	}
	return nil
}

// lastTurns returns the newest n turns. Must be called with c.mu held.
func (c *Controller) lastTurns(n int) []Turn {
	if len(c.history) > n {
		return c.history[len(c.history)-n:]
	}
	return c.history
}

// userName returns the player's display name, defaulting to "User".
func (c *Controller) userName() string {
	if c.profile.UserName != "" {
		return c.profile.UserName
	}
	return "User"
}

func orElse(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
