// Package stt defines the Provider interface for batch Speech-to-Text backends.
//
// A provider receives one finished recording (raw PCM plus its format) and
// returns the recognised text. Backends include a whisper.cpp HTTP server, the
// whisper.cpp CGO bindings and the OpenAI transcription API. Streaming
// recognition is not modelled: the capture engine hands over whole
// recordings once they are finalized.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
)

// ErrEmptyAudio is returned when a Request carries no PCM payload.
var ErrEmptyAudio = errors.New("stt: empty audio")

// ErrUnsupportedFormat is returned when a backend cannot accept the request's
// audio format.
var ErrUnsupportedFormat = errors.New("stt: unsupported audio format")

// Request is a single transcription job.
type Request struct {
	// PCM is the 16-bit signed little-endian payload.
	PCM []byte

	// Format describes PCM. A zero Format means audio.Capture.
	Format audio.Format

	// Language is a BCP-47 hint ("en", "de"). Empty lets the backend
	// auto-detect, if supported.
	Language string

	// Prompt is optional context that biases recognition towards expected
	// vocabulary.
	Prompt string
}

// AudioFormat returns r.Format, or audio.Capture when it is unset.
func (r Request) AudioFormat() audio.Format {
	if r.Format.SampleRate == 0 {
		return audio.Capture
	}
	return r.Format
}

// Duration is the playback length of the payload.
func (r Request) Duration() time.Duration {
	return r.AudioFormat().Duration(len(r.PCM))
}

// Validate checks that the request carries audio.
func (r Request) Validate() error {
	if len(r.PCM) == 0 {
		return ErrEmptyAudio
	}
	return nil
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe recognises the speech in req. The returned error wraps
	// ErrEmptyAudio when req has no payload.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
