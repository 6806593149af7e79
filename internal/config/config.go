// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for earshot.
package config

import (
	"fmt"
	"time"

	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// LogLevel controls log verbosity for the earshot server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for earshot.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Catalog    CatalogConfig    `yaml:"catalog"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// ListenAddr is the control API address (e.g., ":8089").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel is one of debug, info, warn, error. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TraceSampleRatio is the fraction of root traces that are sampled.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// RecorderConfig configures the capture engine. The VAD thresholds are
// hot-reloadable; they are read at the start of every session.
type RecorderConfig struct {
	// VADEnabled gates sessions on detected speech. Defaults to true.
	VADEnabled *bool `yaml:"vad_enabled"`

	// VADMode is normal, low_bitrate, aggressive or very_aggressive.
	VADMode string `yaml:"vad_mode"`

	SilenceDurationMs int `yaml:"silence_duration_ms"`
	SpeechDurationMs  int `yaml:"speech_duration_ms"`

	// NoSpeechTimeout ends a gated session that hears no speech. Zero waits
	// for the full budget.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// MaxDuration is the per-session capture budget.
	MaxDuration time.Duration `yaml:"max_duration"`

	// MinDuration is the length a recording must exceed to count as finished.
	MinDuration time.Duration `yaml:"min_duration"`

	// StorageRoot receives the Recordings/ directory.
	StorageRoot string `yaml:"storage_root"`

	// QueueSize is the listener update queue length.
	QueueSize int `yaml:"queue_size"`

	// OutboxSize is the buffer of the finished-recordings channel.
	OutboxSize int `yaml:"outbox_size"`
}

// Enabled reports the effective VAD switch.
func (r RecorderConfig) Enabled() bool {
	return r.VADEnabled == nil || *r.VADEnabled
}

// Settings converts the hot-reloadable part to [recorder.Settings]. The mode
// must already have passed [Validate].
func (r RecorderConfig) Settings() recorder.Settings {
	mode, err := vad.ParseMode(r.VADMode)
	if err != nil {
		mode = vad.ModeVeryAggressive
	}
	return recorder.Settings{
		VADEnabled:        r.Enabled(),
		VADMode:           mode,
		SilenceDurationMs: r.SilenceDurationMs,
		SpeechDurationMs:  r.SpeechDurationMs,
		NoSpeechTimeout:   r.NoSpeechTimeout,
	}
}

// ProvidersConfig selects the implementation for each provider kind.
type ProvidersConfig struct {
	// Audio is the capture backend (e.g., "portaudio").
	Audio ProviderEntry `yaml:"audio"`

	// VAD is the speech detector (e.g., "webrtc", "energy").
	VAD ProviderEntry `yaml:"vad"`

	// Transcribe lists STT backends in failover order. The first entry is
	// the primary.
	Transcribe []ProviderEntry `yaml:"transcribe"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1"),
	// or a model file path for in-process backends.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or def when it is absent.
func (e ProviderEntry) OptionString(key, def string) string {
	v, ok := e.Options[key]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// OptionInt returns Options[key] as an int, or def when it is absent or not
// numeric.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// OptionFloat returns Options[key] as a float64, or def when it is absent or
// not numeric.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// TranscribeConfig configures the downstream ASR consumer.
type TranscribeConfig struct {
	// Enabled turns the consumer on. Defaults to true when at least one
	// transcribe provider is configured.
	Enabled *bool `yaml:"enabled"`

	// Language is the recognition hint (e.g., "en").
	Language string `yaml:"language"`

	// Timeout bounds each transcription.
	Timeout time.Duration `yaml:"timeout"`

	// MaxFailures opens a backend's circuit breaker after this many
	// consecutive failures.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker waits before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// Vocabulary lists domain terms that misheard phrases are corrected to.
	Vocabulary []string `yaml:"vocabulary"`
}

// CatalogConfig configures recording persistence.
type CatalogConfig struct {
	// PostgresDSN selects the PostgreSQL catalog. Empty keeps the catalog in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}
