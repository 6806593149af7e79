// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech detector (e.g., WebRTC VAD or an
// energy threshold) and surfaces it as a stateful, per-stream session. Each
// session owns a [Hysteresis] so that brief dropouts do not flip the reported
// state: speech is reported only after SpeechDurationMs of consecutive raw
// speech, silence only after SilenceDurationMs of consecutive raw silence.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a detection
// result, making it suitable for the capture loop that gates a recording.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned by ProcessFrame when the frame does not hold
// exactly one configured frame of samples.
var ErrFrameSize = errors.New("vad: wrong frame size")

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad: session closed")

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. WebRTC supports 8000, 16000, 32000, 48000.
	SampleRate int

	// FrameSize is the number of 16-bit samples per frame. WebRTC accepts
	// 10, 20 or 30 ms worth of samples (480 at 16 kHz is 30 ms).
	FrameSize int

	// Mode is the detector aggressiveness.
	Mode Mode

	// SilenceDurationMs is how long raw silence must last before an active
	// speech segment is reported as ended.
	SilenceDurationMs int

	// SpeechDurationMs is how long raw speech must last before a speech
	// segment is reported as started.
	SpeechDurationMs int

	// SpeechThreshold overrides the per-mode RMS threshold of energy-based
	// engines. Range: (0.0, 1.0]. Zero selects the mode default. Ignored by
	// WebRTC.
	SpeechThreshold float64
}

// FrameMs returns the duration of one frame in milliseconds.
func (c Config) FrameMs() int {
	if c.SampleRate <= 0 {
		return 0
	}
	return c.FrameSize * 1000 / c.SampleRate
}

// FrameBytes returns the byte length of one 16-bit frame.
func (c Config) FrameBytes() int {
	return c.FrameSize * 2
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("vad: frame size must be positive, got %d", c.FrameSize))
	}
	if !c.Mode.Valid() {
		errs = append(errs, fmt.Errorf("vad: unknown mode %d", c.Mode))
	}
	if c.SilenceDurationMs < 0 || c.SpeechDurationMs < 0 {
		errs = append(errs, errors.New("vad: durations must not be negative"))
	}
	if c.SpeechThreshold < 0 || c.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("vad: speech threshold %v out of range", c.SpeechThreshold))
	}
	return errors.Join(errs...)
}

// SessionHandle represents an active VAD session for a single audio stream. It is
// an interface so that test code can supply mock implementations without a live
// engine. Each session maintains its own detection state; Reset clears this state
// without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the implementation
// explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the
	// hysteresis-adjusted detection result. The frame must be raw
	// little-endian PCM holding exactly FrameSize samples. Returns
	// [ErrFrameSize] for a wrong-sized frame and [ErrClosed] after Close.
	//
	// This method is designed to be called synchronously in the audio pipeline loop;
	// it must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The session
	// is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported sample
	// rate or frame size) or if the engine cannot allocate resources for the
	// session.
	NewSession(cfg Config) (SessionHandle, error)
}
