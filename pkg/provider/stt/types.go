package stt

import "time"

// Transcript is the result of transcribing one recording.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or requested language, when the backend
	// reports it.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Segments holds per-segment timing when available.
	Segments []Segment

	// Duration is the length of the audio that was transcribed.
	Duration time.Duration
}

// Segment is a contiguous span of recognised speech.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Empty reports whether the transcript carries no text.
func (t Transcript) Empty() bool { return t.Text == "" }
