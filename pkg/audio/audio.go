// Package audio defines the capture-side audio abstractions used by earshot.
//
// The two primary abstractions are:
//
//   - [Opener] — acquires a capture device for a given [Format] and returns a
//     [Source].
//   - [Source] — a blocking reader of raw little-endian PCM bytes.
//
// Implementations live in adapter packages (e.g., audio/portaudio). Tests use
// the scripted doubles in audio/mock so that no hardware is needed.
package audio

import (
	"context"
	"fmt"
	"time"
)

const (
	// SampleRate is the fixed capture rate in Hz.
	SampleRate = 16000

	// Channels is the fixed capture channel count (mono).
	Channels = 1

	// BitsPerSample is the fixed PCM sample width.
	BitsPerSample = 16

	// FrameSamples is the number of samples in one VAD frame (30 ms at 16 kHz).
	FrameSamples = 480
)

// Format describes a signed little-endian PCM stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Capture is the only format the recorder captures in: 16 kHz, mono, 16-bit.
var Capture = Format{
	SampleRate:    SampleRate,
	Channels:      Channels,
	BitsPerSample: BitsPerSample,
}

// BlockAlign returns the number of bytes in one sample across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// BytesFor returns the number of bytes that hold d of audio, rounded down to a
// whole sample.
func (f Format) BytesFor(d time.Duration) int {
	samples := int64(d) * int64(f.SampleRate) / int64(time.Second)
	return int(samples) * f.BlockAlign()
}

// Duration returns the play time of n bytes of audio.
func (f Format) Duration(n int) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// FrameBytes returns the byte size of a frame of samples samples.
func (f Format) FrameBytes(samples int) int {
	return samples * f.BlockAlign()
}

// String returns a human-readable form, e.g. "16000Hz mono s16le".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s s%dle", f.SampleRate, ch, f.BitsPerSample)
}

// OpenConfig is passed to [Opener.Open].
type OpenConfig struct {
	// Format is the requested capture format.
	Format Format

	// BufferBytes is the device-side buffer size the caller wants. Openers
	// may round it up but never down.
	BufferBytes int
}

// Source is an open capture stream. It is owned by a single goroutine.
type Source interface {
	// Read blocks until audio is available and copies at most len(p) bytes of
	// PCM into p. A return of n <= 0 or a non-nil error is an unrecoverable
	// device failure; callers must not retry.
	Read(p []byte) (int, error)

	// Close stops the stream and releases the device. Calling Close more than
	// once is safe.
	Close() error
}

// Opener acquires a capture device.
//
// Implementations must be safe for concurrent use, although the recorder only
// ever holds one [Source] at a time.
type Opener interface {
	// MinBufferSize reports the smallest device buffer, in bytes, the backend
	// accepts for f.
	MinBufferSize(f Format) int

	// Open starts capturing with cfg and returns the running [Source].
	Open(ctx context.Context, cfg OpenConfig) (Source, error)
}
