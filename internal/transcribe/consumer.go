// Package transcribe turns finished recordings into catalogued transcripts.
//
// A [Consumer] drains the recorder's hand-off channel one recording at a
// time. Usable recordings are sent to the configured STT backend; every
// recording, usable or not, is written to the catalog so that the history
// reflects short and failed sessions too.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/transcribe/vocab"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// ErrSkipped is reported in [Result.Err] for recordings that were not
// transcribed because they are not usable.
var ErrSkipped = errors.New("transcribe: recording not usable")

// ErrDisabled is reported in [Result.Err] when the consumer has no
// transcriber and only catalogs recordings.
var ErrDisabled = errors.New("transcribe: transcription disabled")

// namedTranscriber is implemented by failover groups that can report which
// backend answered.
type namedTranscriber interface {
	TranscribeNamed(ctx context.Context, req stt.Request) (stt.Transcript, string, error)
}

// Result is the outcome for one recording.
type Result struct {
	Recording  *recorder.Recording
	Transcript stt.Transcript

	// Provider names the backend that produced Transcript, when known.
	Provider string

	// Corrections lists vocabulary substitutions applied to Transcript.Text.
	Corrections []vocab.Correction

	// Err is ErrSkipped, a transcription error or a catalog error.
	Err error
}

// Config wires a [Consumer].
type Config struct {
	// Source delivers finished recordings. Required.
	Source <-chan *recorder.Recording

	// Transcriber performs ASR. Nil catalogs recordings without
	// transcribing them.
	Transcriber stt.Provider

	// ProviderName labels results when Transcriber cannot name the backend
	// itself.
	ProviderName string

	// Store receives one entry per recording. Nil disables cataloguing.
	// At least one of Transcriber and Store is required.
	Store catalog.Store

	// Language is forwarded as the recognition hint.
	Language string

	// Vocabulary, if set, corrects misheard terms before cataloguing.
	Vocabulary *vocab.Corrector

	// Timeout bounds each transcription. Zero means 60 s.
	Timeout time.Duration

	// OnResult, if set, is called after each recording is handled.
	OnResult func(Result)
}

// Consumer transcribes recordings sequentially.
type Consumer struct {
	cfg Config
}

// New validates cfg and returns a Consumer.
func New(cfg Config) (*Consumer, error) {
	var errs []error
	if cfg.Source == nil {
		errs = append(errs, errors.New("transcribe: source channel is required"))
	}
	if cfg.Transcriber == nil && cfg.Store == nil {
		errs = append(errs, errors.New("transcribe: a transcriber or a store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Consumer{cfg: cfg}, nil
}

// Run handles recordings until ctx is cancelled or the source is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-c.cfg.Source:
			if !ok {
				return nil
			}
			res := c.Handle(ctx, rec)
			if c.cfg.OnResult != nil {
				c.cfg.OnResult(res)
			}
		}
	}
}

// Handle transcribes rec if it is usable and records it in the catalog.
func (c *Consumer) Handle(ctx context.Context, rec *recorder.Recording) Result {
	ctx, span := observe.StartSpan(observe.WithSession(ctx, rec.ID), "transcribe.recording")
	defer span.End()
	span.SetAttributes(
		attribute.String("recording.status", string(rec.Status)),
		attribute.Int("recording.bytes", rec.Bytes),
	)
	log := observe.Logger(ctx)

	res := Result{Recording: rec}
	switch {
	case !rec.Usable():
		res.Err = ErrSkipped
		log.Debug("skipping transcription", "status", rec.Status, "end_reason", rec.EndReason)
	case c.cfg.Transcriber == nil:
		res.Err = ErrDisabled
	default:
		res.Transcript, res.Provider, res.Err = c.transcribe(ctx, rec)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "transcription failed")
			log.Warn("transcription failed", "err", res.Err)
		} else {
			if c.cfg.Vocabulary != nil {
				res.Transcript.Text, res.Corrections = c.cfg.Vocabulary.Correct(res.Transcript.Text)
			}
			span.SetAttributes(
				attribute.String("stt.provider", res.Provider),
				attribute.Int("vocab.corrections", len(res.Corrections)),
			)
			log.Info("recording transcribed",
				"provider", res.Provider,
				"chars", len(res.Transcript.Text),
				"corrections", len(res.Corrections),
				"duration", rec.Duration,
			)
		}
	}

	if c.cfg.Store != nil {
		e := catalog.FromRecording(rec)
		e.Transcript = res.Transcript.Text
		e.Language = res.Transcript.Language
		e.Provider = res.Provider
		if err := c.cfg.Store.Save(ctx, e); err != nil {
			log.Error("failed to catalog recording", "err", err)
			res.Err = errors.Join(res.Err, err)
		}
	}
	return res
}

func (c *Consumer) transcribe(ctx context.Context, rec *recorder.Recording) (stt.Transcript, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req := stt.Request{PCM: rec.PCM, Format: rec.Format, Language: c.cfg.Language}
	if nt, ok := c.cfg.Transcriber.(namedTranscriber); ok {
		tr, name, err := nt.TranscribeNamed(ctx, req)
		if err != nil {
			return stt.Transcript{}, name, fmt.Errorf("transcribe %s: %w", rec.ID, err)
		}
		return tr, name, nil
	}
	tr, err := c.cfg.Transcriber.Transcribe(ctx, req)
	if err != nil {
		return stt.Transcript{}, c.cfg.ProviderName, fmt.Errorf("transcribe %s: %w", rec.ID, err)
	}
	return tr, c.cfg.ProviderName, nil
}
