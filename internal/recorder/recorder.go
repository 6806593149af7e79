// Package recorder implements the single-producer microphone capture engine.
//
// A [Recorder] owns one worker goroutine (started by [Recorder.Run]) that
// waits for [Recorder.Start], runs exactly one capture session to completion
// and returns to waiting. A session reads 30 ms frames from an
// [audio.Source], appends them to an in-memory buffer and a WAV file, and
// optionally gates on a VAD: it reports "recording" once speech is detected
// and ends as soon as the detector reports the speech is over. Sessions are
// capped at [Config.MaxDuration] of audio.
//
// Finished sessions are published as immutable [Recording] values: returned
// from [Recorder.Stop], stored for [Recorder.Last] and sent on
// [Recorder.Recordings]. Listeners receive [Update]s asynchronously, in order.
//
// Lifecycle:
//
//	Idle ──Start──▶ Pending ──worker picks up──▶ Running ──session ends──▶ Idle
//
// Only one session exists at a time. Start while Pending or Running is a
// no-op. Stop on an idle recorder returns immediately.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Sentinel errors.
var (
	// ErrPermissionDenied wraps the [Authorizer] error on a denied session.
	ErrPermissionDenied = errors.New("recorder: permission denied")

	// ErrDevice wraps audio source open and read failures.
	ErrDevice = errors.New("recorder: audio device error")

	// ErrAlreadyRunning is returned by a second concurrent [Recorder.Run].
	ErrAlreadyRunning = errors.New("recorder: worker already running")
)

// State is the recorder lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePending
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	defaultMaxDuration = 30 * time.Second
	defaultMinDuration = 200 * time.Millisecond
	defaultQueueSize   = 16
	defaultOutboxSize  = 4
)

// Config wires a [Recorder]. Only Opener is required.
type Config struct {
	// Opener acquires the microphone for each session.
	Opener audio.Opener

	// VAD creates one detector per session. Nil disables gating regardless
	// of Settings.
	VAD vad.Engine

	// Authorizer is consulted before each session. Nil allows every session.
	Authorizer Authorizer

	// Route is acquired before the device is opened and released after it
	// is closed. Optional.
	Route Route

	// Namer picks the WAV path. Nil disables the container file; the PCM is
	// still published.
	Namer Namer

	// Settings supplies the per-session thresholds. Nil uses
	// [DefaultSettings].
	Settings SettingsFunc

	// Listeners receive updates. More can be added with [Recorder.Subscribe].
	Listeners []Listener

	// Metrics records session metrics. Nil uses [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MaxDuration caps the audio captured per session. Default: 30s.
	MaxDuration time.Duration

	// MinDuration is the length a session must exceed to count as finished.
	// Default: 200ms.
	MinDuration time.Duration

	// QueueSize bounds pending listener updates. Default: 16.
	QueueSize int

	// OutboxSize bounds recordings buffered on [Recorder.Recordings].
	// Default: 4.
	OutboxSize int

	// Now returns the current time. Default: time.Now.
	Now func() time.Time
}

// run is one Start→completion cycle.
type run struct {
	id   string
	keep atomic.Bool
	done chan struct{}

	// rec is written before done is closed.
	rec *Recording
}

// Recorder is the capture engine. All methods are safe for concurrent use.
type Recorder struct {
	cfg        Config
	format     audio.Format
	frameBytes int
	budget     int
	minBytes   int
	metrics    *observe.Metrics

	mu      sync.Mutex
	state   State
	current *run
	wake    chan struct{}
	closed  bool

	working    atomic.Bool
	last       atomic.Pointer[Recording]
	recordings chan *Recording
	updates    *dispatcher
}

// New validates cfg and returns an idle Recorder. Call [Recorder.Run] to
// start the worker.
func New(cfg Config) (*Recorder, error) {
	if cfg.Opener == nil {
		return nil, errors.New("recorder: opener is required")
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultMaxDuration
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = defaultMinDuration
	}
	if cfg.MinDuration >= cfg.MaxDuration {
		return nil, fmt.Errorf("recorder: min duration %s must be below max duration %s", cfg.MinDuration, cfg.MaxDuration)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = defaultOutboxSize
	}
	if cfg.Settings == nil {
		cfg.Settings = DefaultSettings
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	f := audio.Capture
	r := &Recorder{
		cfg:        cfg,
		format:     f,
		frameBytes: f.FrameBytes(audio.FrameSamples),
		budget:     f.BytesFor(cfg.MaxDuration),
		minBytes:   f.BytesFor(cfg.MinDuration),
		metrics:    m,
		wake:       make(chan struct{}, 1),
		recordings: make(chan *Recording, cfg.OutboxSize),
		updates:    newDispatcher(cfg.QueueSize, m),
	}
	for _, l := range cfg.Listeners {
		r.updates.subscribe(l)
	}
	return r, nil
}

// Run is the worker loop. It blocks until ctx is cancelled and returns
// ctx.Err() once any in-flight session has completed and all queued updates
// have been delivered.
func (r *Recorder) Run(ctx context.Context) error {
	if !r.working.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer r.working.Store(false)

	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.updates.run(stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	slog.Info("recorder: worker started", "budget_bytes", r.budget, "frame_bytes", r.frameBytes)
	for {
		select {
		case <-ctx.Done():
			r.close()
			slog.Info("recorder: worker stopped")
			return ctx.Err()
		case <-r.wake:
		}

		// The wake signal is only a hint; the state is authoritative.
		r.mu.Lock()
		if r.state != StatePending {
			r.mu.Unlock()
			continue
		}
		cur := r.current
		r.state = StateRunning
		r.mu.Unlock()

		var rec *Recording
		switch {
		case !cur.keep.Load():
			// Stopped before the worker picked it up.
			rec = r.emptyRecording(cur, EndStopped)
		case ctx.Err() != nil:
			rec = r.emptyRecording(cur, EndShutdown)
		default:
			rec = r.capture(ctx, cur)
		}
		r.complete(cur, rec)
	}
}

// close rejects further Starts until the next Run and completes a run that
// was started but never picked up.
func (r *Recorder) close() {
	r.mu.Lock()
	r.closed = true
	if r.state != StatePending {
		r.mu.Unlock()
		return
	}
	cur := r.current
	r.state = StateRunning
	r.mu.Unlock()

	r.complete(cur, r.emptyRecording(cur, EndShutdown))
}

// emptyRecording publishes a zero-byte recording for a run that never
// captured and emits the error update.
func (r *Recorder) emptyRecording(cur *run, reason EndReason) *Recording {
	now := r.cfg.Now()
	rec := &Recording{
		ID:        cur.id,
		Format:    r.format,
		StartedAt: now,
		EndedAt:   now,
		Status:    StatusShort,
		EndReason: reason,
	}
	r.publish(rec)
	r.updates.emit(Update{Kind: UpdateError, SessionID: cur.id, Recording: rec})
	return rec
}

// complete returns the recorder to idle and releases Stop callers.
func (r *Recorder) complete(cur *run, rec *Recording) {
	cur.rec = rec
	r.mu.Lock()
	r.state = StateIdle
	r.current = nil
	r.mu.Unlock()
	close(cur.done)
}

// publish hands rec to Last and the Recordings channel.
func (r *Recorder) publish(rec *Recording) {
	r.last.Store(rec)
	select {
	case r.recordings <- rec:
	default:
		slog.Warn("recorder: recordings outbox full, consumer is lagging", "session", rec.ID)
	}
}

// Start requests a new session without blocking. It returns false, and does
// nothing, when a session is already pending or running or when the worker
// has exited. A Start before the first Run stays pending until Run picks it
// up.
func (r *Recorder) Start() bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		slog.Debug("recorder: start rejected, worker has exited")
		return false
	}
	if r.state != StateIdle {
		st := r.state
		r.mu.Unlock()
		slog.Debug("recorder: recording already in progress", "state", st)
		return false
	}
	cur := &run{id: uuid.NewString(), done: make(chan struct{})}
	cur.keep.Store(true)
	r.current = cur
	r.state = StatePending
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	slog.Debug("recorder: start requested", "session", cur.id)
	return true
}

// Stop asks the in-flight session to end and waits for it to complete,
// returning its recording. With no session it returns (nil, nil) at once.
// If ctx ends first, Stop returns ctx.Err() and the session still ends on
// its own.
func (r *Recorder) Stop(ctx context.Context) (*Recording, error) {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur == nil {
		return nil, nil
	}

	cur.keep.Store(false)
	select {
	case <-cur.done:
		return cur.rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until the in-flight session, if any, completes, without asking
// it to stop.
func (r *Recorder) Wait(ctx context.Context) (*Recording, error) {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur == nil {
		return nil, nil
	}
	select {
	case <-cur.done:
		return cur.rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InProgress reports whether a session is pending or running.
func (r *Recorder) InProgress() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state != StateIdle
}

// Status returns the lifecycle state and the current session ID ("" when
// idle).
func (r *Recorder) Status() (State, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return r.state, ""
	}
	return r.state, r.current.id
}

// Stopping reports whether the in-flight session has been told to end, by
// [Recorder.Stop] or by its own speech gate, and has not completed yet.
func (r *Recorder) Stopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil && !r.current.keep.Load()
}

// Working reports whether [Recorder.Run] is executing.
func (r *Recorder) Working() bool { return r.working.Load() }

// Last returns the most recently published recording, or nil.
func (r *Recorder) Last() *Recording { return r.last.Load() }

// Recordings delivers every published recording. Recordings are dropped,
// with a warning, when the channel buffer is full.
func (r *Recorder) Recordings() <-chan *Recording { return r.recordings }

// Subscribe adds a listener and returns a function that removes it.
func (r *Recorder) Subscribe(l Listener) (unsubscribe func()) {
	return r.updates.subscribe(l)
}
