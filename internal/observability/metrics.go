package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OTel metric instruments for replay runs.
type Metrics struct {
	PairCount   metric.Int64Counter
	FileCount   metric.Int64Counter
	PairLatency metric.Float64Histogram
	Fallbacks   metric.Int64Counter
}

// NewMetrics creates the replay metric instruments on the global meter
// provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("parity")

	pairCount, err := meter.Int64Counter("parity.pair.count",
		metric.WithDescription("Number of request/response pairs executed"),
	)
	if err != nil {
		return nil, err
	}

	fileCount, err := meter.Int64Counter("parity.file.count",
		metric.WithDescription("Number of fixture files by outcome"),
	)
	if err != nil {
		return nil, err
	}

	pairLatency, err := meter.Float64Histogram("parity.pair.latency_seconds",
		metric.WithDescription("Time to execute one pair against the service"),
	)
	if err != nil {
		return nil, err
	}

	fallbacks, err := meter.Int64Counter("parity.adapter.fallbacks",
		metric.WithDescription("Adaptable requests that fell back to raw execution"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		PairCount:   pairCount,
		FileCount:   fileCount,
		PairLatency: pairLatency,
		Fallbacks:   fallbacks,
	}, nil
}

// RecordPair records one executed pair.
func (m *Metrics) RecordPair(ctx context.Context, path string, pass bool, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.Bool("pass", pass),
	)
	m.PairCount.Add(ctx, 1, attrs)
	m.PairLatency.Record(ctx, d.Seconds(), attrs)
}

// RecordFile records a finished fixture file.
func (m *Metrics) RecordFile(ctx context.Context, status string) {
	m.FileCount.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordFallback records an adapter failure recovered on the raw path.
func (m *Metrics) RecordFallback(ctx context.Context) {
	m.Fallbacks.Add(ctx, 1)
}
