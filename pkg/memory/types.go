// Package memory implements Reverie's long-term memory engine: a durable,
// character-scoped document of facts, world lore, events, a single tracked
// relationship, and a bounded emotional state, populated by a heuristic rule
// list and rendered into a deterministic summary for prompt injection.
//
// The engine is not safe for concurrent use. A single session drives it
// serially; the session controller's one-in-flight-generation gate is the
// synchronisation boundary.
package memory

import "time"

// Entry is one remembered statement in the facts, world, or events list.
type Entry struct {
	// ID is a unique identifier assigned at insertion time.
	ID string `json:"id"`

	// Text is the remembered statement, trimmed and sentence-cased.
	Text string `json:"text"`

	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Relationship is the primary tracked relationship between the character and
// the user. Only one slot (index 0 of [Document.Relationships]) is ever read
// or mutated; the slice shape exists for document fidelity and future
// multi-party tracking.
type Relationship struct {
	// ID is a unique identifier assigned when the slot is created.
	ID string `json:"id"`

	// Text is an accumulated note. New information is appended with a " | "
	// separator when it is not already contained in the note.
	Text string `json:"text"`

	// Score is the aggregated sentiment, always within [ScoreMin, ScoreMax].
	Score float64 `json:"score"`

	// Timestamp is refreshed on every update.
	Timestamp time.Time `json:"timestamp"`
}

// Emotion is the character's 4-dimensional emotional state. Every dimension
// is bounded to [ScoreMin, ScoreMax]; updates are additive deltas that clamp
// at the bounds.
type Emotion struct {
	Trust     float64 `json:"trust"`
	Affinity  float64 `json:"affinity"`
	Tension   float64 `json:"tension"`
	Curiosity float64 `json:"curiosity"`
}

// EmotionDelta is a sparse additive update to an [Emotion]. Dimensions left
// at zero are applied as no-ops; callers set only the dimensions they mean to
// nudge.
type EmotionDelta struct {
	Trust     float64
	Affinity  float64
	Tension   float64
	Curiosity float64
}

// Metadata carries document lifecycle timestamps.
type Metadata struct {
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Document is the complete long-term memory of one character, keyed by the
// character's slug. It is created empty on first access, mutated only by
// [Engine] operations, persisted after every mutation, and replaced wholesale
// only by [Engine.Reset].
type Document struct {
	Facts         []Entry        `json:"facts"`
	World         []Entry        `json:"world"`
	Events        []Entry        `json:"events"`
	Relationships []Relationship `json:"relationships"`
	Emotion       Emotion        `json:"emotion"`
	Metadata      Metadata       `json:"metadata"`
}

// Bounds for relationship scores and emotion dimensions.
const (
	ScoreMin = -5.0
	ScoreMax = 5.0
)

// Caps configures the bounded-list policy of a [Document]. Zero-value fields
// are replaced with defaults by [NewEngine].
type Caps struct {
	// FactCap is the overflow threshold for the facts and world lists.
	// When exceeded, the list is trimmed to the newest FactKeep entries.
	FactCap  int
	FactKeep int

	// EventCap / EventKeep bound the events list the same way.
	EventCap  int
	EventKeep int

	// RelationshipCap bounds the relationships slice. With single-slot
	// semantics it only matters for documents restored from older blobs.
	RelationshipCap int

	// NoteLimit is the ceiling (in characters) for the accumulated
	// relationship note; appends that would exceed it are skipped.
	NoteLimit int
}

// DefaultCaps returns the standard cap policy.
func DefaultCaps() Caps {
	return Caps{
		FactCap:         120,
		FactKeep:        100,
		EventCap:        300,
		EventKeep:       250,
		RelationshipCap: 10,
		NoteLimit:       200,
	}
}

// clamp bounds v to [ScoreMin, ScoreMax].
func clamp(v float64) float64 {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}
