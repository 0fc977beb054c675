package observe_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/reverie/internal/observe"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func metricNames(rm metricdata.ResourceMetrics) map[string]bool {
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestRecordTurnEmitsCounterAndHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordTurn(context.Background(), "ok", 1.25)

	names := metricNames(collect(t, reader))
	for _, want := range []string{"reverie.turns", "reverie.turn.duration"} {
		if !names[want] {
			t.Errorf("metric %q not recorded; have %v", want, names)
		}
	}
}

func TestRecordGenerationFailureIncrementsErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordGeneration(context.Background(), "kobold", 0.8, true)

	names := metricNames(collect(t, reader))
	for _, want := range []string{"reverie.generation.duration", "reverie.generation.errors"} {
		if !names[want] {
			t.Errorf("metric %q not recorded; have %v", want, names)
		}
	}
}

func TestRecordExtractionHit(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordExtractionHit(context.Background(), "fact.my-name-is")

	names := metricNames(collect(t, reader))
	if !names["reverie.extraction.hits"] {
		t.Errorf("extraction hits not recorded; have %v", names)
	}
}
