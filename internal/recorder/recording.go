package recorder

import (
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/wav"
)

// Status classifies a finished session.
type Status string

const (
	// StatusFinished means more than the minimum duration was captured.
	StatusFinished Status = "finished"

	// StatusShort means the session ended at or under the minimum duration.
	StatusShort Status = "short"

	// StatusPermissionDenied means the session never captured because the
	// [Authorizer] refused.
	StatusPermissionDenied Status = "permission-denied"

	// StatusDeviceError means the device failed before enough audio was
	// captured.
	StatusDeviceError Status = "device-error"
)

// EndReason records why the capture loop stopped.
type EndReason string

const (
	EndBudget           EndReason = "budget"
	EndSilence          EndReason = "silence"
	EndNoSpeech         EndReason = "no-speech"
	EndStopped          EndReason = "stopped"
	EndDeviceError      EndReason = "device-error"
	EndShutdown         EndReason = "shutdown"
	EndPermissionDenied EndReason = "permission-denied"
)

// Recording is the immutable result of one capture session. It is handed to
// consumers by value of the pointer; neither the recorder nor consumers may
// modify it after publication.
type Recording struct {
	// ID uniquely identifies the session.
	ID string

	// Path is the finalized WAV file, or "" when no file was written.
	Path string

	// PCM holds every captured byte as 16-bit little-endian samples.
	PCM []byte

	// Format is the capture format of PCM.
	Format audio.Format

	// Bytes is len(PCM).
	Bytes int

	// Duration is the audio length of PCM.
	Duration time.Duration

	StartedAt time.Time
	EndedAt   time.Time

	Status    Status
	EndReason EndReason

	// Gated reports whether a speech detector classified the session.
	Gated bool

	// SpeechDetected reports whether the VAD gate ever opened.
	SpeechDetected bool

	// WriteErrors counts failed container writes. The PCM is complete even
	// when this is non-zero; the file may not be.
	WriteErrors int

	// Err holds the device or permission error that ended the session.
	Err error
}

// WAV encodes the recording as an in-memory WAV file.
func (r *Recording) WAV() []byte {
	return wav.Encode(r.Format, r.PCM)
}

// Usable reports whether the recording is worth transcribing: long enough,
// and holding speech if a detector was listening.
func (r *Recording) Usable() bool {
	return r.Status == StatusFinished && (!r.Gated || r.SpeechDetected)
}
