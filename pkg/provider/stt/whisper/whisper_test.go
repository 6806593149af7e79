package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/wav"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures what the fake server saw.
type inferenceRequest struct {
	fields map[string]string
	file   []byte
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. Every parsed request is sent on seen.
func newMockServer(t *testing.T, responseText string, seen chan<- inferenceRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req := inferenceRequest{fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			req.fields[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.file, _ = io.ReadAll(f)
		f.Close()
		if seen != nil {
			seen <- req
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPCM generates a 440 Hz sine wave of the given sample count.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("base.en"),
		whisper.WithLanguage("de"),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_UploadsWAV(t *testing.T) {
	t.Parallel()
	seen := make(chan inferenceRequest, 1)
	srv := newMockServer(t, "  hello there ", seen)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pcm := makeSpeechPCM(16000)
	tr, err := p.Transcribe(context.Background(), stt.Request{PCM: pcm, Prompt: "earshot"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello there" {
		t.Errorf("Text = %q, want %q", tr.Text, "hello there")
	}
	if tr.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", tr.Duration)
	}
	if tr.Language != "en" {
		t.Errorf("Language = %q, want en", tr.Language)
	}

	req := <-seen
	want := wav.Encode(audio.Capture, pcm)
	if string(req.file) != string(want) {
		t.Errorf("uploaded file differs from wav.Encode output (len %d vs %d)", len(req.file), len(want))
	}
	for k, v := range map[string]string{"language": "en", "model": "base.en", "prompt": "earshot", "response_format": "json"} {
		if req.fields[k] != v {
			t.Errorf("field %q = %q, want %q", k, req.fields[k], v)
		}
	}
}

func TestTranscribe_RequestLanguageOverridesDefault(t *testing.T) {
	t.Parallel()
	seen := make(chan inferenceRequest, 1)
	srv := newMockServer(t, "hallo", seen)

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("en"))
	tr, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(480), Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := (<-seen).fields["language"]; got != "de" {
		t.Errorf("language field = %q, want de", got)
	}
	if tr.Language != "de" {
		t.Errorf("Language = %q, want de", tr.Language)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times, want 0", calls.Load())
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(480)})
	if err == nil {
		t.Fatal("expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error %q should mention status and body", err)
	}
}

func TestTranscribe_InvalidJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(480)}); err == nil {
		t.Fatal("expected JSON parse error")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "never", nil)
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Transcribe(ctx, stt.Request{PCM: makeSpeechPCM(480)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTranscribe_Concurrent(t *testing.T) {
	t.Parallel()
	srv := newMockServer(t, "ok", nil)
	p, _ := whisper.New(srv.URL)

	errs := make(chan error, 8)
	for range 8 {
		go func() {
			_, err := p.Transcribe(context.Background(), stt.Request{PCM: makeSpeechPCM(960)})
			errs <- err
		}()
	}
	for range 8 {
		if err := <-errs; err != nil {
			t.Errorf("Transcribe: %v", err)
		}
	}
}
