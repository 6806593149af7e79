// Package control exposes the recorder over HTTP.
//
// Routes registered by [Server.Register]:
//
//	POST /v1/recording/start   request a capture session
//	POST /v1/recording/stop    end the session and return its summary
//	GET  /v1/recording/status  lifecycle state
//	GET  /v1/recording/last.wav  the most recent recording as WAV
//	GET  /v1/recordings        catalog search (?q=, status=, after=, before=, limit=)
//	GET  /v1/recordings/{id}   one catalog entry
//	GET  /v1/events            websocket stream of [Event] values
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/resilience"
)

// DefaultStopTimeout bounds how long a stop request waits for the session to
// finalize.
const DefaultStopTimeout = 10 * time.Second

// Controller is the part of [recorder.Recorder] the API drives.
type Controller interface {
	Start() bool
	Stop(ctx context.Context) (*recorder.Recording, error)
	Status() (recorder.State, string)
	Stopping() bool
	Last() *recorder.Recording
	Working() bool
}

// Failover reports the transcriber chain, primary first, and each
// backend's circuit breaker state.
type Failover interface {
	Names() []string
	States() map[string]resilience.State
}

var _ Failover = (*resilience.STTFallback)(nil)

var _ Controller = (*recorder.Recorder)(nil)

// Config wires a [Server].
type Config struct {
	// Recorder is required.
	Recorder Controller

	// Catalog backs the /v1/recordings routes. Nil makes them return 503.
	Catalog catalog.Store

	// Hub serves /v1/events. Nil makes the route return 503.
	Hub *Hub

	// Transcribers, if set, adds the failover chain to the status response.
	Transcribers Failover

	// StopTimeout defaults to [DefaultStopTimeout].
	StopTimeout time.Duration
}

// Server implements the control API.
type Server struct {
	cfg Config
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Recorder == nil {
		return nil, errors.New("control: recorder is required")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Server{cfg: cfg}, nil
}

// Register adds the control routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/recording/start", s.handleStart)
	mux.HandleFunc("POST /v1/recording/stop", s.handleStop)
	mux.HandleFunc("GET /v1/recording/status", s.handleStatus)
	mux.HandleFunc("GET /v1/recording/last.wav", s.handleLastWAV)
	mux.HandleFunc("GET /v1/recordings", s.handleSearch)
	mux.HandleFunc("GET /v1/recordings/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
}

// Summary is the JSON view of a [recorder.Recording] without its samples.
type Summary struct {
	ID             string    `json:"id"`
	Path           string    `json:"path,omitempty"`
	Status         string    `json:"status"`
	EndReason      string    `json:"end_reason"`
	Bytes          int       `json:"bytes"`
	DurationMs     int64     `json:"duration_ms"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	SpeechDetected bool      `json:"speech_detected"`
	WriteErrors    int       `json:"write_errors,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Summarize converts rec to its JSON view.
func Summarize(rec *recorder.Recording) Summary {
	s := Summary{
		ID:             rec.ID,
		Path:           rec.Path,
		Status:         string(rec.Status),
		EndReason:      string(rec.EndReason),
		Bytes:          rec.Bytes,
		DurationMs:     rec.Duration.Milliseconds(),
		StartedAt:      rec.StartedAt,
		EndedAt:        rec.EndedAt,
		SpeechDetected: rec.SpeechDetected,
		WriteErrors:    rec.WriteErrors,
	}
	if rec.Err != nil {
		s.Error = rec.Err.Error()
	}
	return s
}

// TranscriberStatus is one entry of the failover chain.
type TranscriberStatus struct {
	Name    string `json:"name"`
	Circuit string `json:"circuit"`
}

type statusResponse struct {
	State         string              `json:"state"`
	SessionID     string              `json:"session_id,omitempty"`
	InProgress    bool                `json:"in_progress"`
	Stopping      bool                `json:"stopping,omitempty"`
	WorkerRunning bool                `json:"worker_running"`
	Last          *Summary            `json:"last,omitempty"`
	Transcribers  []TranscriberStatus `json:"transcribers,omitempty"`
}

func (s *Server) status() statusResponse {
	st, id := s.cfg.Recorder.Status()
	resp := statusResponse{
		State:         st.String(),
		SessionID:     id,
		InProgress:    st != recorder.StateIdle,
		Stopping:      s.cfg.Recorder.Stopping(),
		WorkerRunning: s.cfg.Recorder.Working(),
	}
	if last := s.cfg.Recorder.Last(); last != nil {
		sum := Summarize(last)
		resp.Last = &sum
	}
	if f := s.cfg.Transcribers; f != nil {
		states := f.States()
		for _, name := range f.Names() {
			resp.Transcribers = append(resp.Transcribers, TranscriberStatus{Name: name, Circuit: states[name].String()})
		}
	}
	return resp
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Recorder.Working() {
		writeError(w, http.StatusServiceUnavailable, "capture worker is not running")
		return
	}
	if !s.cfg.Recorder.Start() {
		writeJSON(w, http.StatusConflict, s.status())
		return
	}
	observe.Logger(r.Context()).Info("recording requested")
	writeJSON(w, http.StatusAccepted, s.status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StopTimeout)
	defer cancel()

	rec, err := s.cfg.Recorder.Stop(ctx)
	switch {
	case err != nil:
		writeError(w, http.StatusGatewayTimeout, fmt.Sprintf("waiting for session: %v", err))
	case rec == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, Summarize(rec))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleLastWAV(w http.ResponseWriter, _ *http.Request) {
	rec := s.cfg.Recorder.Last()
	if rec == nil {
		writeError(w, http.StatusNotFound, "no recording yet")
		return
	}
	data := rec.WAV()
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.wav"`, rec.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Debug("control: write wav", "err", err)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog is not configured")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.cfg.Catalog.Search(r.Context(), q)
	if err != nil {
		observe.Logger(r.Context()).Error("catalog search failed", "err", err)
		writeError(w, http.StatusInternalServerError, "catalog search failed")
		return
	}
	if entries == nil {
		entries = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recordings": entries})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog is not configured")
		return
	}
	e, err := s.cfg.Catalog.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("catalog get failed", "err", err)
		writeError(w, http.StatusInternalServerError, "catalog lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}
	s.cfg.Hub.ServeHTTP(w, r)
}

// parseQuery reads catalog filters from the URL. Times are RFC 3339.
func parseQuery(r *http.Request) (catalog.Query, error) {
	v := r.URL.Query()
	q := catalog.Query{Text: v.Get("q"), Status: v.Get("status")}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
		q.Limit = n
	}
	for _, f := range []struct {
		key string
		dst *time.Time
	}{{"after", &q.After}, {"before", &q.Before}} {
		s := v.Get(f.key)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q: want RFC 3339", f.key, s)
		}
		*f.dst = t
	}
	return q, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("control: encode response", "err", err)
	}
}
