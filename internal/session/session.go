// Package session drives the chat loop: it owns the dialogue history, gates
// turns so only one generation is ever in flight, and runs each submission
// through extraction, prompt compilation, generation, and sanitization.
package session

import (
	"errors"
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrBusy is returned by turn-starting operations while a generation is
// already in flight.
var ErrBusy = errors.New("session: a generation is already in flight")

// ErrNoCharacter is returned when a turn is submitted before a profile has
// been set.
var ErrNoCharacter = errors.New("session: no character profile set")

// Turn is one committed dialogue entry.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Profile describes the active persona and player for prompt compilation.
type Profile struct {
	// UserName is the player's display name.
	UserName string `json:"userName"`

	// CharacterName is the persona's display name; it also scopes the
	// long-term memory document.
	CharacterName string `json:"characterName"`

	// Persona is the free-text character sheet.
	Persona string `json:"persona"`

	// Scenario holds the world rules.
	Scenario string `json:"scenario"`

	// PlayerNotes is flavor-only player guidance.
	PlayerNotes string `json:"playerNotes"`

	// Template overrides the default prompt template when non-empty.
	Template string `json:"template,omitempty"`

	// Greeting overrides the default seeded first message when non-empty.
	Greeting string `json:"greeting,omitempty"`
}

// state is the persisted session snapshot.
type state struct {
	Profile Profile `json:"profile"`
	History []Turn  `json:"history"`
}
