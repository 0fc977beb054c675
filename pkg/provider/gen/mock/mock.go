// Package mock provides a test double for the gen.Provider interface.
//
// Use Provider in unit tests to verify that the session controller sends
// correct Requests and to feed controlled responses without a live backend.
// All fields are safe to set before calling any method; mutating them during
// a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{CompleteText: "Hello!"}
//	text, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/reverie/pkg/provider/gen"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the Request passed to Complete.
	Req gen.Request
}

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// Req is the Request passed to Stream.
	Req gen.Request
}

// Provider is a mock implementation of gen.Provider.
// Zero values for response fields cause methods to return zero values and nil
// errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// CompleteText is returned by Complete. When CompleteQueue is non-empty
	// it takes precedence: each call pops the next queued response.
	CompleteText string

	// CompleteQueue holds per-call responses for sequential Complete calls.
	CompleteQueue []string

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// StreamChunks is the sequence of Chunk values emitted on the channel
	// returned by Stream. All chunks are sent before the channel is closed.
	StreamChunks []gen.Chunk

	// StreamErr, if non-nil, is returned as the error from Stream instead of
	// starting a channel.
	StreamErr error

	// --- Call records (read after test) ---

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []StreamCall
}

var _ gen.Provider = (*Provider)(nil)

// Complete records the call and returns the configured text or error.
func (p *Provider) Complete(ctx context.Context, req gen.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return "", p.CompleteErr
	}
	if len(p.CompleteQueue) > 0 {
		next := p.CompleteQueue[0]
		p.CompleteQueue = p.CompleteQueue[1:]
		return next, nil
	}
	return p.CompleteText, nil
}

// Stream records the call and returns a channel that emits StreamChunks.
// If StreamErr is set, it returns nil, StreamErr without opening a channel.
func (p *Provider) Stream(ctx context.Context, req gen.Request) (<-chan gen.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([]gen.Chunk, len(p.StreamChunks))
	copy(chunks, p.StreamChunks)
	p.mu.Unlock()

	ch := make(chan gen.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}
