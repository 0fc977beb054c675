package gen

import "errors"

// Sentinel errors shared by provider implementations. Backends wrap these
// with detail so callers can classify failures with errors.Is.
var (
	// ErrConfig indicates a misconfigured provider (missing API key, bad
	// endpoint). Retrying will not help.
	ErrConfig = errors.New("gen: invalid provider configuration")

	// ErrNetwork indicates the backend was unreachable or answered with a
	// failure status. Retrying or falling back may help.
	ErrNetwork = errors.New("gen: backend request failed")

	// ErrProtocol indicates the backend answered but the response could not
	// be interpreted.
	ErrProtocol = errors.New("gen: unexpected backend response")
)
