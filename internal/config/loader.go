package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the known generation backend names. [Validate]
// rejects provider entries whose name is not in this list.
var ValidBackendNames = []string{"kobold", "openrouter", "openai", "anyllm"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if err := validateProvider("provider", cfg.Provider); err != nil {
		errs = append(errs, err)
	}
	for i, fb := range cfg.Fallbacks {
		if err := validateProvider(fmt.Sprintf("fallbacks[%d]", i), fb); err != nil {
			errs = append(errs, err)
		}
	}

	switch cfg.Store.Backend {
	case "", StoreMemory:
		slog.Warn("store backend is in-memory; memory documents will not survive restarts")
	case StoreFile, StoreSQLite:
		if cfg.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required when store.backend is %q", cfg.Store.Backend))
		}
	case StorePostgres:
		if cfg.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required when store.backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, file, sqlite, postgres", cfg.Store.Backend))
	}

	if cfg.Character.Name == "" && cfg.Character.CardPath == "" {
		errs = append(errs, fmt.Errorf("character.name or character.card_path is required"))
	}

	if cfg.Session.WindowTurns < 0 {
		errs = append(errs, fmt.Errorf("session.window_turns must not be negative"))
	}
	if cfg.Session.HistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("session.history_turns must not be negative"))
	}
	if cfg.Session.Temperature < 0 || cfg.Session.Temperature > 2 {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0, 2]", cfg.Session.Temperature))
	}

	if m := cfg.Memory; m.FactKeep > m.FactCap && m.FactCap > 0 {
		errs = append(errs, fmt.Errorf("memory.fact_keep %d exceeds memory.fact_cap %d", m.FactKeep, m.FactCap))
	}
	if m := cfg.Memory; m.EventKeep > m.EventCap && m.EventCap > 0 {
		errs = append(errs, fmt.Errorf("memory.event_keep %d exceeds memory.event_cap %d", m.EventKeep, m.EventCap))
	}

	return errors.Join(errs...)
}

// validateProvider checks one backend entry. The primary may be empty (the
// built-in Kobold default is used); fallback entries must name a backend.
func validateProvider(prefix string, p ProviderEntry) error {
	if p.Name == "" {
		if prefix == "provider" {
			return nil
		}
		return fmt.Errorf("%s.name is required", prefix)
	}
	if !slices.Contains(ValidBackendNames, p.Name) {
		return fmt.Errorf("%s.name %q is invalid; valid values: %v", prefix, p.Name, ValidBackendNames)
	}
	switch p.Name {
	case "openrouter", "openai":
		if p.APIKey == "" {
			return fmt.Errorf("%s.api_key is required for backend %q", prefix, p.Name)
		}
	case "anyllm":
		if p.Model == "" {
			return fmt.Errorf("%s.model is required for backend anyllm", prefix)
		}
	}
	if p.Name == "openai" && p.Model == "" {
		return fmt.Errorf("%s.model is required for backend openai", prefix)
	}
	return nil
}
