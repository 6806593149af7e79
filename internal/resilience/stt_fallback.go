package resilience

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// providerKind labels transcription calls in provider metrics.
const providerKind = "stt"

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker. Every attempt is
// counted in the provider request/error metrics under the backend's name.
type STTFallback struct {
	group   *FallbackGroup[stt.Provider]
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// A nil m uses [observe.DefaultMetrics].
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig, m *observe.Metrics) *STTFallback {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	f := &STTFallback{metrics: m}
	f.group = NewFallbackGroup(f.instrument(primaryName, primary), primaryName, cfg)
	return f
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, f.instrument(name, provider))
}

// Names returns the backend names in try order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// States reports each backend's circuit breaker state.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Transcribe sends req to the first healthy backend. A request without audio
// is rejected before any backend is tried.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	tr, _, err := f.TranscribeNamed(ctx, req)
	return tr, err
}

// TranscribeNamed is Transcribe that also reports which backend answered.
func (f *STTFallback) TranscribeNamed(ctx context.Context, req stt.Request) (stt.Transcript, string, error) {
	if err := req.Validate(); err != nil {
		return stt.Transcript{}, "", err
	}
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// instrument wraps p so that each call records latency and outcome.
func (f *STTFallback) instrument(name string, p stt.Provider) stt.Provider {
	return &measured{name: name, next: p, metrics: f.metrics}
}

type measured struct {
	name    string
	next    stt.Provider
	metrics *observe.Metrics
}

func (m *measured) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	start := time.Now()
	tr, err := m.next.Transcribe(ctx, req)
	m.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", m.name)))
	status := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		status = "canceled"
	case err != nil:
		status = "error"
		m.metrics.RecordProviderError(ctx, m.name, providerKind)
	}
	m.metrics.RecordProviderRequest(ctx, m.name, providerKind, status)
	return tr, err
}
