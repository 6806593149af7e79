package vad

import (
	"fmt"
	"strings"
)

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0). Binary detectors
	// report 0 or 1.
	Probability float64
}

// IsSpeech reports whether the event belongs to a speech segment.
func (e VADEvent) IsSpeech() bool {
	return e.Type == VADSpeechStart || e.Type == VADSpeechContinue
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)

func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return fmt.Sprintf("VADEventType(%d)", int(t))
	}
}

// Mode is the detector aggressiveness. Higher modes reject more non-speech.
type Mode int

const (
	ModeNormal Mode = iota
	ModeLowBitrate
	ModeAggressive
	ModeVeryAggressive
)

var modeNames = [...]string{"normal", "low_bitrate", "aggressive", "very_aggressive"}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m >= ModeNormal && m <= ModeVeryAggressive }

func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses a mode name such as "very_aggressive". The empty string
// yields [ModeVeryAggressive].
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeVeryAggressive, nil
	}
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range modeNames {
		if name == norm {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("vad: unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
