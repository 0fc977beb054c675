package resilience

import (
	"context"

	"github.com/MrWong99/reverie/pkg/provider/gen"
)

// GenFallback implements [gen.Provider] with automatic failover across
// multiple generation backends. Each backend has its own breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
type GenFallback struct {
	chain *Chain[gen.Provider]
}

var _ gen.Provider = (*GenFallback)(nil)

// NewGenFallback creates a [GenFallback] with primary as the preferred
// backend.
func NewGenFallback(primary gen.Provider, name string, breaker BreakerConfig) *GenFallback {
	return &GenFallback{chain: NewChain(primary, name, breaker)}
}

// Append registers an additional generation backend as a fallback.
func (f *GenFallback) Append(name string, p gen.Provider) {
	f.chain.Append(name, p)
}

// Backends returns the backend names in try order.
func (f *GenFallback) Backends() []string {
	return f.chain.Names()
}

// Complete sends the request to the first healthy backend.
func (f *GenFallback) Complete(ctx context.Context, req gen.Request) (string, error) {
	return TryResult(f.chain, func(p gen.Provider) (string, error) {
		return p.Complete(ctx, req)
	})
}

// Stream starts the generation on the first healthy backend. Only the
// initial connection participates in failover; once a stream is established,
// mid-stream errors surface as error chunks to the caller.
func (f *GenFallback) Stream(ctx context.Context, req gen.Request) (<-chan gen.Chunk, error) {
	return TryResult(f.chain, func(p gen.Provider) (<-chan gen.Chunk, error) {
		return p.Stream(ctx, req)
	})
}
