package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/wav"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// preallocDuration bounds the up-front accumulation buffer; longer budgets
// grow it by appending.
const preallocDuration = 30 * time.Second

// session is the state of one capture pass. It is owned by the worker
// goroutine.
type session struct {
	r        *Recorder
	run      *run
	settings Settings
	log      *slog.Logger
	started  time.Time

	src    audio.Source
	det    vad.SessionHandle
	routed bool
	file   *wav.Writer
	path   string

	buf       []byte
	pcm       []byte
	win       *window
	gate      Gate
	announced bool

	noSpeechBytes int
	reason        EndReason
	err           error
	writeErrs     int
}

// capture runs one session and returns its published recording.
func (r *Recorder) capture(ctx context.Context, cur *run) *Recording {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, cur.id), "recorder.session")
	defer span.End()

	r.metrics.ActiveSessions.Add(ctx, 1)
	defer r.metrics.ActiveSessions.Add(ctx, -1)

	s := &session{
		r:        r,
		run:      cur,
		settings: r.cfg.Settings(),
		log:      observe.Logger(ctx),
		started:  r.cfg.Now(),
	}

	if r.cfg.Authorizer != nil {
		if err := r.cfg.Authorizer.Check(ctx); err != nil {
			return s.denied(ctx, err)
		}
	}

	if err := s.open(ctx); err != nil {
		s.err = err
		s.reason = EndDeviceError
		s.log.Error("recorder: cannot open audio source", "err", err)
		r.metrics.DeviceErrors.Add(ctx, 1)
	} else {
		s.loop(ctx)
	}
	s.close()

	rec := s.result()
	span.SetAttributes(
		attribute.String("status", string(rec.Status)),
		attribute.String("end_reason", string(rec.EndReason)),
		attribute.Int("bytes", rec.Bytes),
	)
	if rec.Err != nil {
		span.RecordError(rec.Err)
		span.SetStatus(codes.Error, rec.Err.Error())
	}
	r.metrics.RecordSession(ctx, string(rec.Status), string(rec.EndReason), rec.Duration, rec.Bytes)

	r.publish(rec)

	kind := UpdateError
	if rec.Status == StatusFinished {
		kind = UpdateFinished
	}
	r.updates.emit(Update{Kind: kind, SessionID: cur.id, Recording: rec})

	s.log.Info("recorder: session complete",
		"status", rec.Status,
		"end_reason", rec.EndReason,
		"bytes", rec.Bytes,
		"duration", rec.Duration,
		"path", rec.Path,
	)
	return rec
}

// denied finishes a session refused by the authorizer. Nothing is opened.
func (s *session) denied(ctx context.Context, err error) *Recording {
	s.log.Warn("recorder: capture permission denied", "err", err)
	rec := &Recording{
		ID:        s.run.id,
		Format:    s.r.format,
		StartedAt: s.started,
		EndedAt:   s.r.cfg.Now(),
		Status:    StatusPermissionDenied,
		EndReason: EndPermissionDenied,
		Err:       fmt.Errorf("%w: %w", ErrPermissionDenied, err),
	}
	s.r.metrics.RecordSession(ctx, string(rec.Status), string(rec.EndReason), 0, 0)
	s.r.updates.emit(Update{Kind: UpdatePermissionDenied, SessionID: s.run.id, Recording: rec})
	s.r.publish(rec)
	return rec
}

// open acquires the route, opens the source, creates the container and
// starts the detector. Only a source failure is returned; the others degrade
// the session.
func (s *session) open(ctx context.Context) error {
	r := s.r

	if r.cfg.Route != nil {
		if err := r.cfg.Route.Acquire(ctx); err != nil {
			s.log.Warn("recorder: audio route unavailable, using default", "err", err)
		} else {
			s.routed = true
		}
	}

	bufBytes := max(r.cfg.Opener.MinBufferSize(r.format), 2*r.frameBytes)
	src, err := r.cfg.Opener.Open(ctx, audio.OpenConfig{Format: r.format, BufferBytes: bufBytes})
	if err != nil {
		return fmt.Errorf("%w: open: %w", ErrDevice, err)
	}
	s.src = src
	s.buf = make([]byte, r.frameBytes)
	s.pcm = make([]byte, 0, min(r.budget, r.format.BytesFor(preallocDuration)))

	if r.cfg.Namer != nil {
		path, err := r.cfg.Namer.Path(s.started)
		if err == nil {
			s.file, err = wav.Create(path, r.format)
		}
		if err != nil {
			s.log.Error("recorder: cannot create container, capturing to memory only", "err", err)
			r.metrics.ContainerWriteErrors.Add(ctx, 1)
		} else {
			s.path = path
		}
	}

	if s.settings.VADEnabled && r.cfg.VAD != nil {
		det, err := r.cfg.VAD.NewSession(vad.Config{
			SampleRate:        r.format.SampleRate,
			FrameSize:         audio.FrameSamples,
			Mode:              s.settings.VADMode,
			SilenceDurationMs: s.settings.SilenceDurationMs,
			SpeechDurationMs:  s.settings.SpeechDurationMs,
		})
		if err != nil {
			s.log.Error("recorder: cannot start VAD, recording ungated", "err", err)
		} else {
			s.det = det
			s.win = newWindow(r.frameBytes)
			if s.settings.NoSpeechTimeout > 0 {
				s.noSpeechBytes = r.format.BytesFor(s.settings.NoSpeechTimeout)
			}
		}
	}

	s.log.Debug("recorder: session opened",
		"buffer_bytes", bufBytes,
		"vad", s.det != nil,
		"path", s.path,
	)
	return nil
}

// loop reads frames until the run is stopped, ctx ends, the budget is
// reached or the device fails. Every exit sets s.reason.
func (s *session) loop(ctx context.Context) {
	for {
		if !s.run.keep.Load() {
			if s.reason == "" {
				s.reason = EndStopped
			}
			return
		}
		if ctx.Err() != nil {
			s.reason = EndShutdown
			return
		}
		remaining := s.r.budget - len(s.pcm)
		if remaining <= 0 {
			s.reason = EndBudget
			return
		}

		n, err := s.src.Read(s.buf[:min(s.r.frameBytes, remaining)])
		if n > 0 {
			s.consume(ctx, s.buf[:n])
		}
		if n <= 0 || err != nil {
			if err == nil {
				err = fmt.Errorf("read returned %d bytes", n)
			}
			s.err = fmt.Errorf("%w: %w", ErrDevice, err)
			s.reason = EndDeviceError
			s.log.Error("recorder: audio read failed", "err", err, "captured", len(s.pcm))
			s.r.metrics.DeviceErrors.Add(ctx, 1)
			return
		}
	}
}

// consume records one chunk and runs the gate.
func (s *session) consume(ctx context.Context, p []byte) {
	s.pcm = append(s.pcm, p...)

	if s.file != nil {
		if _, err := s.file.Write(p); err != nil {
			s.writeErrs++
			s.r.metrics.ContainerWriteErrors.Add(ctx, 1)
			if s.writeErrs == 1 {
				s.log.Warn("recorder: container write failed, continuing in memory", "err", err)
			}
		}
	}

	if s.det == nil {
		s.announce()
		return
	}

	s.win.push(p)
	if !s.win.full() {
		return
	}
	ev, err := s.det.ProcessFrame(s.win.bytes())
	if err != nil {
		s.log.Debug("recorder: VAD classification failed", "err", err)
		return
	}
	switch s.gate.Observe(ev.IsSpeech()) {
	case SpeechStarted:
		s.log.Debug("recorder: speech detected")
		s.announce()
	case SpeechEnded:
		s.log.Debug("recorder: end of speech")
		s.reason = EndSilence
		s.run.keep.Store(false)
	}

	if s.noSpeechBytes > 0 && !s.gate.Opened() && len(s.pcm) >= s.noSpeechBytes {
		s.reason = EndNoSpeech
		s.run.keep.Store(false)
	}
}

// announce emits UpdateRecording once per session.
func (s *session) announce() {
	if s.announced {
		return
	}
	s.announced = true
	s.r.updates.emit(Update{Kind: UpdateRecording, SessionID: s.run.id})
}

// close releases resources in order: detector, source, route, container.
func (s *session) close() {
	if s.det != nil {
		if err := s.det.Close(); err != nil {
			s.log.Warn("recorder: close VAD", "err", err)
		}
	}
	if s.src != nil {
		if err := s.src.Close(); err != nil {
			s.log.Warn("recorder: close audio source", "err", err)
		}
	}
	if s.routed {
		if err := s.r.cfg.Route.Release(); err != nil {
			s.log.Warn("recorder: release audio route", "err", err)
		}
	}
	if s.file != nil {
		if err := s.file.Finalize(); err != nil {
			s.log.Error("recorder: finalize container", "err", err, "path", s.path)
			s.writeErrs++
		}
	}
}

// result builds the published recording.
func (s *session) result() *Recording {
	rec := &Recording{
		ID:             s.run.id,
		Path:           s.path,
		PCM:            s.pcm,
		Format:         s.r.format,
		Bytes:          len(s.pcm),
		Duration:       s.r.format.Duration(len(s.pcm)),
		StartedAt:      s.started,
		EndedAt:        s.r.cfg.Now(),
		EndReason:      s.reason,
		Gated:          s.det != nil,
		SpeechDetected: s.gate.Opened(),
		WriteErrors:    s.writeErrs,
		Err:            s.err,
	}
	switch {
	case rec.Bytes > s.r.minBytes:
		rec.Status = StatusFinished
	case s.reason == EndDeviceError:
		rec.Status = StatusDeviceError
	default:
		rec.Status = StatusShort
	}
	return rec
}
