package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterTotal sums every data point of the named Int64 counter.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, mm := range sm.Metrics {
			if mm.Name != name {
				continue
			}
			if sum, ok := mm.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

var fbCfg = FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour}}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	m, reader := newTestMetrics(t)
	primary := &sttmock.Provider{Transcript: stt.Transcript{Text: "hello"}}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "whisper", fbCfg, m)
	fb.AddFallback("openai", secondary)

	tr, name, err := fb.TranscribeNamed(context.Background(), stt.Request{PCM: make([]byte, 960)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello" || name != "whisper" {
		t.Fatalf("got %q from %q", tr.Text, name)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 0 {
		t.Fatalf("calls primary=%d secondary=%d", len(primary.Calls()), len(secondary.Calls()))
	}
	if got := counterTotal(t, reader, "earshot.provider.requests"); got != 1 {
		t.Errorf("provider.requests = %d, want 1", got)
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	m, reader := newTestMetrics(t)
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Transcript: stt.Transcript{Text: "from cloud"}}

	fb := NewSTTFallback(primary, "whisper", fbCfg, m)
	fb.AddFallback("openai", secondary)

	tr, err := fb.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 960)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from cloud" {
		t.Fatalf("Text = %q", tr.Text)
	}
	if got := counterTotal(t, reader, "earshot.provider.errors"); got != 1 {
		t.Errorf("provider.errors = %d, want 1", got)
	}
	if got := counterTotal(t, reader, "earshot.provider.requests"); got != 2 {
		t.Errorf("provider.requests = %d, want 2", got)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "whisper", fbCfg, nil)
	fb.AddFallback("openai", secondary)

	_, err := fb.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 960)})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_EmptyAudioNotForwarded(t *testing.T) {
	primary := &sttmock.Provider{}
	fb := NewSTTFallback(primary, "whisper", fbCfg, nil)

	_, err := fb.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if len(primary.Calls()) != 0 {
		t.Fatal("provider must not be called for empty audio")
	}
	if got := fb.Names(); len(got) != 1 || got[0] != "whisper" {
		t.Fatalf("Names() = %v", got)
	}
	if fb.States()["whisper"] != StateClosed {
		t.Fatal("breaker should stay closed")
	}
}
