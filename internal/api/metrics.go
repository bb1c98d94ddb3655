package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/loqalabs/loqa-voice/api"

type instruments struct {
	requests   metric.Int64Counter
	duration   metric.Float64Histogram
	audioBytes metric.Int64Counter
}

// newInstruments registers the request instruments on the global meter
// provider, so it must run after telemetry is set up.
func newInstruments() (*instruments, error) {
	meter := otel.Meter(meterName)
	requests, err := meter.Int64Counter("loqa.voice.requests",
		metric.WithDescription("Synthesis requests by route and status"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("loqa.voice.synthesis.duration",
		metric.WithDescription("Time from request to last audio byte"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	audioBytes, err := meter.Int64Counter("loqa.voice.audio.bytes",
		metric.WithDescription("PCM bytes sent to clients"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &instruments{requests: requests, duration: duration, audioBytes: audioBytes}, nil
}

func (m *instruments) observe(ctx context.Context, route string, status int, bytes int64, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if bytes > 0 {
		m.audioBytes.Add(ctx, bytes, metric.WithAttributes(attribute.String("route", route)))
	}
}
