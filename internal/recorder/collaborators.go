package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Authorizer decides whether audio may be captured. A non-nil error denies
// the session.
type Authorizer interface {
	Check(ctx context.Context) error
}

// AuthorizerFunc adapts a function to [Authorizer].
type AuthorizerFunc func(ctx context.Context) error

// Check implements [Authorizer].
func (f AuthorizerFunc) Check(ctx context.Context) error { return f(ctx) }

// Route configures the platform audio path (e.g. a Bluetooth SCO link)
// around a capture session. Acquire failures are logged and capture proceeds
// on the default route.
type Route interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Namer picks the container file path for a session that starts at t.
type Namer interface {
	Path(t time.Time) (string, error)
}

// DirNamer names files Recording_<unix millis>.wav under Root/Recordings,
// creating the directory on demand.
type DirNamer struct {
	Root string
}

// Path implements [Namer].
func (d DirNamer) Path(t time.Time) (string, error) {
	dir := filepath.Join(d.Root, "Recordings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("recorder: create %s: %w", dir, err)
	}
	return filepath.Join(dir, fmt.Sprintf("Recording_%d.wav", t.UnixMilli())), nil
}

// Settings are the user-tunable thresholds, read once at the start of every
// session.
type Settings struct {
	// VADEnabled gates the session on detected speech.
	VADEnabled bool

	// VADMode is the detector aggressiveness.
	VADMode vad.Mode

	// SilenceDurationMs ends speech after this much continuous silence.
	SilenceDurationMs int

	// SpeechDurationMs starts speech after this much continuous speech.
	SpeechDurationMs int

	// NoSpeechTimeout ends a VAD-gated session that has not detected speech
	// after this much audio. Zero waits for the full budget.
	NoSpeechTimeout time.Duration
}

// DefaultSettings returns VAD on, very aggressive, 800 ms silence and 200 ms
// speech.
func DefaultSettings() Settings {
	return Settings{
		VADEnabled:        true,
		VADMode:           vad.ModeVeryAggressive,
		SilenceDurationMs: 800,
		SpeechDurationMs:  200,
	}
}

// SettingsFunc returns the current settings. It is called from the worker
// goroutine and must not block.
type SettingsFunc func() Settings
