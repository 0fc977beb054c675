// Package observe provides application-wide observability primitives for
// Reverie: OpenTelemetry metrics with a Prometheus exporter bridge so the
// standard /metrics endpoint keeps working.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Reverie metrics.
const meterName = "github.com/MrWong99/reverie"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks end-to-end chat turn latency: submission through
	// extraction, generation, and sanitization.
	TurnDuration metric.Float64Histogram

	// GenerationDuration tracks generation backend latency.
	GenerationDuration metric.Float64Histogram

	// Turns counts completed chat turns. Use with attribute:
	//   attribute.String("outcome", "ok"|"fallback")
	Turns metric.Int64Counter

	// GenerationErrors counts generation failures by backend.
	GenerationErrors metric.Int64Counter

	// ExtractionHits counts memory-extraction rule matches by rule name.
	ExtractionHits metric.Int64Counter

	// MemoryEntries tracks the total entry count of the active memory
	// document.
	MemoryEntries metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// text-generation latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("reverie.turn.duration",
		metric.WithDescription("End-to-end latency of one chat turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("reverie.generation.duration",
		metric.WithDescription("Latency of the generation backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("reverie.turns",
		metric.WithDescription("Total completed chat turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.GenerationErrors, err = m.Int64Counter("reverie.generation.errors",
		metric.WithDescription("Total generation failures by backend."),
	); err != nil {
		return nil, err
	}
	if met.ExtractionHits, err = m.Int64Counter("reverie.extraction.hits",
		metric.WithDescription("Total memory-extraction rule matches by rule."),
	); err != nil {
		return nil, err
	}
	if met.MemoryEntries, err = m.Int64UpDownCounter("reverie.memory.entries",
		metric.WithDescription("Entry count of the active memory document."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTurn records one completed chat turn and its duration.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Turns.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, seconds, attrs)
}

// RecordGeneration records one backend call and its duration.
func (m *Metrics) RecordGeneration(ctx context.Context, backend string, seconds float64, failed bool) {
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	m.GenerationDuration.Record(ctx, seconds, attrs)
	if failed {
		m.GenerationErrors.Add(ctx, 1, attrs)
	}
}

// RecordExtractionHit records one extraction rule match.
func (m *Metrics) RecordExtractionHit(ctx context.Context, rule string) {
	m.ExtractionHits.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// AddMemoryEntries adjusts the memory-document entry gauge by delta.
func (m *Metrics) AddMemoryEntries(ctx context.Context, delta int64) {
	if delta != 0 {
		m.MemoryEntries.Add(ctx, delta)
	}
}
