// Package gen defines the text-generation provider abstraction. A Provider
// turns a compiled prompt (plus optional structured history) into character
// text, either in one blocking call or as a stream of chunks. Implementations
// live in subpackages, one per backend.
package gen

import "context"

// Message is one structured conversation turn for chat-style backends.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	Content string

	// Name optionally attributes the message to a speaker.
	Name string
}

// Request carries everything a backend needs for one generation.
type Request struct {
	// System is the compiled system prompt. Chat-style backends send it as a
	// system message; completion-style backends ignore it in favor of Prompt.
	System string

	// Prompt is the full compiled prompt for completion-style backends.
	Prompt string

	// History is the structured dialogue window for chat-style backends.
	History []Message

	// Temperature and sampling controls. Zero values mean backend defaults.
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64

	// DisableSampling requests greedy decoding on backends that expose a
	// do_sample switch. The zero value keeps sampling enabled.
	DisableSampling bool

	// MaxTokens bounds the generated length. Zero means backend default.
	MaxTokens int

	// Stop lists sequences at which generation should halt. Backends that
	// cannot honor stops server-side rely on the caller to truncate.
	Stop []string
}

// Chunk is one streamed fragment of a generation.
type Chunk struct {
	// Text is the newly generated fragment, not the accumulated output.
	Text string

	// FinishReason is empty for intermediate chunks. The final chunk carries
	// the backend's finish reason, or "error" when the stream failed after
	// starting; the chunk's Text then holds the error message.
	FinishReason string
}

// Provider generates character text from compiled prompts.
type Provider interface {
	// Complete performs one blocking generation and returns the full text.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream starts a generation and returns a channel of chunks. The
	// channel is closed when the generation finishes. Errors before the
	// stream starts are returned directly; errors after it starts surface
	// as a final chunk with FinishReason "error".
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}
