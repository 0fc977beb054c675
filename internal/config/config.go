// Package config provides the configuration schema and loader for the
// Reverie chat agent.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreBackend selects the persistence backend for memory and session state.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreFile     StoreBackend = "file"
	StoreSQLite   StoreBackend = "sqlite"
	StorePostgres StoreBackend = "postgres"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StoreFile, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure for Reverie.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// Provider is the primary generation backend.
	Provider ProviderEntry `yaml:"provider"`

	// Fallbacks lists additional backends tried in order when the primary
	// fails or its breaker is open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	Store     StoreConfig     `yaml:"store"`
	Character CharacterConfig `yaml:"character"`
	Session   SessionConfig   `yaml:"session"`
	Memory    MemoryConfig    `yaml:"memory"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ProviderEntry is the common configuration block shared by all generation
// backends.
type ProviderEntry struct {
	// Name selects the backend implementation: "kobold", "openrouter",
	// "openai", or "anyllm".
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds backend-specific configuration values not covered by
	// the standard fields above. For "anyllm", options.provider selects the
	// wrapped backend family.
	Options map[string]any `yaml:"options"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of: memory, file, sqlite, postgres. Default: memory.
	Backend StoreBackend `yaml:"backend"`

	// Path is the directory (file backend) or database file (sqlite).
	Path string `yaml:"path"`

	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn"`
}

// CharacterConfig describes the active persona and the player.
type CharacterConfig struct {
	// UserName is the player's display name. Default: "User".
	UserName string `yaml:"user_name"`

	// Name is the character's display name. Also scopes the character's
	// memory document.
	Name string `yaml:"name"`

	// Persona is the free-text character sheet.
	Persona string `yaml:"persona"`

	// Scenario holds the world rules injected into every prompt.
	Scenario string `yaml:"scenario"`

	// PlayerNotes is flavor-only guidance from the player.
	PlayerNotes string `yaml:"player_notes"`

	// PromptTemplate overrides the built-in prompt template. Placeholders
	// use {{variable}} syntax.
	PromptTemplate string `yaml:"prompt_template"`

	// Greeting overrides the default first message seeded into an empty
	// session.
	Greeting string `yaml:"greeting"`

	// CardPath optionally loads the persona from a character card (JSON or
	// PNG). Explicit fields above override card values.
	CardPath string `yaml:"card_path"`

	// AvatarURL and UserAvatarURL are passed through to frontends.
	AvatarURL     string `yaml:"avatar_url"`
	UserAvatarURL string `yaml:"user_avatar_url"`
}

// SessionConfig tunes the chat turn pipeline.
type SessionConfig struct {
	// WindowTurns is how many recent turns are rendered into the prompt's
	// dialogue section. Default: 8.
	WindowTurns int `yaml:"window_turns"`

	// HistoryTurns is how many recent turns are sent as structured history
	// to chat-style backends. Default: 12.
	HistoryTurns int `yaml:"history_turns"`

	// MaxTokens bounds the generated reply length in tokens.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature overrides the backend's default sampling temperature.
	Temperature float64 `yaml:"temperature"`

	// BlockingTimeout bounds one blocking generation. Default: 25s.
	BlockingTimeout time.Duration `yaml:"blocking_timeout"`

	// StreamTimeout bounds one streaming generation. Default: 60s.
	StreamTimeout time.Duration `yaml:"stream_timeout"`

	// Stream selects streaming generation when the backend supports it.
	Stream bool `yaml:"stream"`
}

// MemoryConfig tunes the long-term memory cap policy. Zero values use the
// built-in defaults.
type MemoryConfig struct {
	FactCap         int `yaml:"fact_cap"`
	FactKeep        int `yaml:"fact_keep"`
	EventCap        int `yaml:"event_cap"`
	EventKeep       int `yaml:"event_keep"`
	RelationshipCap int `yaml:"relationship_cap"`
	NoteLimit       int `yaml:"note_limit"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address serving /metrics (e.g., ":9090").
	// Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}
