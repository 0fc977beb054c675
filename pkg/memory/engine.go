package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/reverie/pkg/kvstore"
)

// keyPrefix scopes memory-document keys in the blob store.
const keyPrefix = "ltm:"

// noteSeparator joins appended relationship notes.
const noteSeparator = " | "

// Engine owns the active character's [Document] and is the only writer to it.
// Switching characters flushes the active document and loads (or creates) the
// next one, so one document per character survives indefinitely in the store.
type Engine struct {
	store kvstore.Store
	caps  Caps

	slug string
	doc  *Document

	now      func() time.Time
	newID    func() string
	ruleHook func(ctx context.Context, rule string)
}

// Option is a functional option for [NewEngine].
type Option func(*Engine)

// WithCaps overrides the default cap policy.
func WithCaps(c Caps) Option {
	return func(e *Engine) { e.caps = c }
}

// WithClock overrides the engine's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRuleHook registers a callback invoked with the rule name each time an
// extraction rule matches. Used to feed rule-hit metrics.
func WithRuleHook(fn func(ctx context.Context, rule string)) Option {
	return func(e *Engine) { e.ruleHook = fn }
}

// NewEngine creates an [Engine] persisting through store. No document is
// active until [Engine.SetCharacter] is called.
func NewEngine(store kvstore.Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		caps:  DefaultCaps(),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(e)
	}
	if e.caps.FactCap <= 0 {
		e.caps = DefaultCaps()
	}
	return e
}

// ActiveSlug returns the slug of the currently loaded document, or "" when no
// character has been set.
func (e *Engine) ActiveSlug() string { return e.slug }

// Document returns the active document for read-only inspection (memory
// panels, tests). Callers must not mutate it.
func (e *Engine) Document() *Document { return e.doc }

// SetCharacter activates the memory document for name, flushing the previous
// document to the store first. A document that has never been stored is
// created empty.
func (e *Engine) SetCharacter(ctx context.Context, name string) error {
	slug := Slug(name)
	if slug == e.slug && e.doc != nil {
		return nil
	}

	if e.doc != nil {
		if err := e.persist(ctx); err != nil {
			return fmt.Errorf("memory: flush %q: %w", e.slug, err)
		}
	}

	doc, err := e.load(ctx, slug)
	if err != nil {
		return err
	}
	e.slug = slug
	e.doc = doc
	return nil
}

// Reset replaces the active document with a fresh empty one and persists it.
// This is the only destructive operation on a memory document.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.requireDoc(); err != nil {
		return err
	}
	e.doc = e.emptyDocument()
	return e.persist(ctx)
}

// RecordFact appends a fact entry. Empty or whitespace-only text is a no-op,
// as is a case-insensitive duplicate of an existing fact.
func (e *Engine) RecordFact(ctx context.Context, text string) error {
	if err := e.requireDoc(); err != nil {
		return err
	}
	return e.record(ctx, &e.doc.Facts, text, true, e.caps.FactCap, e.caps.FactKeep)
}

// RecordWorld appends a world-lore entry under the same policy as facts.
func (e *Engine) RecordWorld(ctx context.Context, text string) error {
	if err := e.requireDoc(); err != nil {
		return err
	}
	return e.record(ctx, &e.doc.World, text, true, e.caps.FactCap, e.caps.FactKeep)
}

// RecordEvent appends an event entry. Events are not deduplicated — the same
// thing can legitimately happen twice.
func (e *Engine) RecordEvent(ctx context.Context, text string) error {
	if err := e.requireDoc(); err != nil {
		return err
	}
	return e.record(ctx, &e.doc.Events, text, false, e.caps.EventCap, e.caps.EventKeep)
}

// record implements the shared append policy. Callers must have verified an
// active document before taking the list's address.
func (e *Engine) record(ctx context.Context, list *[]Entry, text string, dedup bool, limit, keep int) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if dedup && containsText(*list, text) {
		return nil
	}

	*list = append(*list, Entry{
		ID:        e.newID(),
		Text:      text,
		Timestamp: e.now(),
	})
	if len(*list) > limit {
		*list = trimNewest(*list, keep)
	}
	return e.persist(ctx)
}

// UpdateRelationship accumulates sentiment into the primary relationship
// slot. The first call creates the slot with score == delta; subsequent calls
// clamp-add the delta and append text to the note when it adds new
// information and the note stays under the configured ceiling. The slot's
// timestamp is always refreshed.
func (e *Engine) UpdateRelationship(ctx context.Context, text string, delta float64) error {
	if err := e.requireDoc(); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if len(e.doc.Relationships) == 0 {
		e.doc.Relationships = append(e.doc.Relationships, Relationship{
			ID:        e.newID(),
			Text:      text,
			Score:     delta,
			Timestamp: e.now(),
		})
		return e.persist(ctx)
	}

	rel := &e.doc.Relationships[0]
	rel.Score = clamp(rel.Score + delta)
	if !containsFold(rel.Text, text) {
		if appended := rel.Text + noteSeparator + text; len(appended) <= e.caps.NoteLimit {
			rel.Text = appended
		}
	}
	rel.Timestamp = e.now()
	return e.persist(ctx)
}

// AdjustEmotion applies delta to the emotion vector, clamping every dimension
// to [ScoreMin, ScoreMax].
func (e *Engine) AdjustEmotion(ctx context.Context, delta EmotionDelta) error {
	if err := e.requireDoc(); err != nil {
		return err
	}
	emo := &e.doc.Emotion
	emo.Trust = clamp(emo.Trust + delta.Trust)
	emo.Affinity = clamp(emo.Affinity + delta.Affinity)
	emo.Tension = clamp(emo.Tension + delta.Tension)
	emo.Curiosity = clamp(emo.Curiosity + delta.Curiosity)
	return e.persist(ctx)
}

// Prune enforces every cap policy on the active document. It is idempotent
// and safe to call at any time; within-cap lists are untouched.
func (e *Engine) Prune(ctx context.Context) error {
	if err := e.requireDoc(); err != nil {
		return err
	}
	changed := false
	if len(e.doc.Facts) > e.caps.FactCap {
		e.doc.Facts = trimNewest(e.doc.Facts, e.caps.FactKeep)
		changed = true
	}
	if len(e.doc.World) > e.caps.FactCap {
		e.doc.World = trimNewest(e.doc.World, e.caps.FactKeep)
		changed = true
	}
	if len(e.doc.Events) > e.caps.EventCap {
		e.doc.Events = trimNewest(e.doc.Events, e.caps.EventKeep)
		changed = true
	}
	if len(e.doc.Relationships) > e.caps.RelationshipCap {
		e.doc.Relationships = e.doc.Relationships[len(e.doc.Relationships)-e.caps.RelationshipCap:]
		changed = true
	}
	if !changed {
		return nil
	}
	return e.persist(ctx)
}

// requireDoc guards mutating operations against use before SetCharacter.
func (e *Engine) requireDoc() error {
	if e.doc == nil {
		return fmt.Errorf("memory: no active character document")
	}
	return nil
}

func (e *Engine) emptyDocument() *Document {
	now := e.now()
	return &Document{
		Facts:         []Entry{},
		World:         []Entry{},
		Events:        []Entry{},
		Relationships: []Relationship{},
		Metadata:      Metadata{CreatedAt: now, LastUpdated: now},
	}
}

func (e *Engine) load(ctx context.Context, slug string) (*Document, error) {
	raw, err := e.store.Get(ctx, keyPrefix+slug)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return e.emptyDocument(), nil
		}
		return nil, fmt.Errorf("memory: load %q: %w", slug, err)
	}
	doc := e.emptyDocument()
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		return nil, fmt.Errorf("memory: decode %q: %w", slug, err)
	}
	return doc, nil
}

// persist writes the active document to the store. Called synchronously after
// every mutation so a crash loses at most one uncommitted mutation.
func (e *Engine) persist(ctx context.Context) error {
	e.doc.Metadata.LastUpdated = e.now()
	raw, err := json.Marshal(e.doc)
	if err != nil {
		return fmt.Errorf("memory: encode %q: %w", e.slug, err)
	}
	if err := e.store.Set(ctx, keyPrefix+e.slug, string(raw)); err != nil {
		return fmt.Errorf("memory: persist %q: %w", e.slug, err)
	}
	return nil
}

// containsText reports whether list already holds an entry whose text equals
// text case-insensitively.
func containsText(list []Entry, text string) bool {
	for _, en := range list {
		if strings.EqualFold(en.Text, text) {
			return true
		}
	}
	return false
}

// containsFold reports whether sub occurs in s, ignoring case.
func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// trimNewest keeps the newest keep entries of list.
func trimNewest(list []Entry, keep int) []Entry {
	if len(list) <= keep {
		return list
	}
	trimmed := make([]Entry, keep)
	copy(trimmed, list[len(list)-keep:])
	return trimmed
}
