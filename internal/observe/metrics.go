// Package observe wires earshot's telemetry: OpenTelemetry instruments for
// the recorder, transcription and HTTP layers, session-aware tracing and
// logging, and the Prometheus bridge behind /metrics.
//
// Production code uses [DefaultMetrics], which is bound to the global meter
// provider installed by [InitProvider]. Tests build their own instance with
// [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/earshot"

// Metrics holds earshot's instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// Recorder.

	// Sessions counts finished sessions by "status" and "end_reason".
	Sessions metric.Int64Counter
	// SessionDuration is the captured audio length per session, by "status".
	SessionDuration metric.Float64Histogram
	// CapturedBytes counts PCM bytes kept in recordings.
	CapturedBytes metric.Int64Counter
	// ActiveSessions is 1 while a session runs.
	ActiveSessions metric.Int64UpDownCounter
	// DeviceErrors counts sessions that could not open or read the device.
	DeviceErrors metric.Int64Counter
	// ContainerWriteErrors counts failed WAV payload writes.
	ContainerWriteErrors metric.Int64Counter
	// UpdatesDropped counts listener updates lost to a full queue.
	UpdatesDropped metric.Int64Counter

	// Transcription backends, by "provider" and "kind".

	TranscribeDuration metric.Float64Histogram
	ProviderRequests   metric.Int64Counter
	ProviderErrors     metric.Int64Counter

	// HTTPRequestDuration is recorded by [Middleware] with "method",
	// "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are in seconds and cover a quick HTTP call up to a slow
// cloud transcription.
var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// sessionBuckets run up to the default 30 s budget.
var sessionBuckets = []float64{0.2, 0.5, 1, 2, 5, 10, 15, 20, 30}

// builder creates instruments and keeps the first error per instrument.
type builder struct {
	m    metric.Meter
	errs []error
}

func (b *builder) check(name string, err error) {
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("observe: instrument %s: %w", name, err))
	}
}

func (b *builder) counter(name, desc string, opts ...metric.Int64CounterOption) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, append(opts, metric.WithDescription(desc))...)
	b.check(name, err)
	return c
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := b.m.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.check(name, err)
	return h
}

// NewMetrics creates every instrument on mp's earshot meter.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{m: mp.Meter(meterName)}

	active, err := b.m.Int64UpDownCounter("earshot.active_sessions",
		metric.WithDescription("Running capture sessions (0 or 1)."))
	b.check("earshot.active_sessions", err)

	met := &Metrics{
		Sessions:             b.counter("earshot.sessions", "Finished recording sessions by status and end reason."),
		SessionDuration:      b.seconds("earshot.session.duration", "Captured audio length per session.", sessionBuckets),
		CapturedBytes:        b.counter("earshot.captured.bytes", "PCM bytes kept in recordings.", metric.WithUnit("By")),
		ActiveSessions:       active,
		DeviceErrors:         b.counter("earshot.device.errors", "Sessions that failed on the audio device."),
		ContainerWriteErrors: b.counter("earshot.container.write_errors", "Failed WAV payload writes."),
		UpdatesDropped:       b.counter("earshot.updates.dropped", "Listener updates dropped on a full queue."),

		TranscribeDuration: b.seconds("earshot.transcribe.duration", "Transcription latency per backend.", latencyBuckets),
		ProviderRequests:   b.counter("earshot.provider.requests", "Backend requests by provider, kind and status."),
		ProviderErrors:     b.counter("earshot.provider.errors", "Backend errors by provider and kind."),

		HTTPRequestDuration: b.seconds("earshot.http.request.duration", "HTTP request latency by method, route and status.", latencyBuckets),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instance, created on first use
// from [otel.GetMeterProvider]. Call [InitProvider] first so it binds to the
// Prometheus exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSession counts a finished session and records its length and size.
func (m *Metrics) RecordSession(ctx context.Context, status, endReason string, length time.Duration, bytes int) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(Attr("status", status), Attr("end_reason", endReason)))
	m.SessionDuration.Record(ctx, length.Seconds(), metric.WithAttributes(Attr("status", status)))
	if bytes > 0 {
		m.CapturedBytes.Add(ctx, int64(bytes))
	}
}

// RecordProviderRequest counts one backend call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status)))
}

// RecordProviderError counts one backend failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)))
}
