package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8089"
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultVADMode           = "very_aggressive"
	DefaultSilenceDurationMs = 800
	DefaultSpeechDurationMs  = 200
	DefaultMaxDuration       = 30 * time.Second
	DefaultMinDuration       = 200 * time.Millisecond
	DefaultTranscribeTimeout = 60 * time.Second
)

// Environment variables overlaid onto the file configuration by [ApplyEnv].
const (
	EnvLogLevel     = "EARSHOT_LOG_LEVEL"
	EnvListenAddr   = "EARSHOT_LISTEN_ADDR"
	EnvStorageRoot  = "EARSHOT_STORAGE_ROOT"
	EnvPostgresDSN  = "EARSHOT_POSTGRES_DSN"
	EnvOpenAIAPIKey = "EARSHOT_OPENAI_API_KEY"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio":      {"portaudio"},
	"vad":        {"webrtc", "energy"},
	"transcribe": {"whisper", "whisper-native", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv loads KEY=value pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env %q: %w", path, err)
	}
	return nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment overlay, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment values onto cfg. Set variables win over the
// file. The OpenAI key is copied to every openai transcribe entry that has no
// key of its own.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v, ok := lookup(EnvListenAddr); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
	if v, ok := lookup(EnvStorageRoot); ok && v != "" {
		cfg.Recorder.StorageRoot = v
	}
	if v, ok := lookup(EnvPostgresDSN); ok && v != "" {
		cfg.Catalog.PostgresDSN = v
	}
	if v, ok := lookup(EnvOpenAIAPIKey); ok && v != "" {
		for i := range cfg.Providers.Transcribe {
			e := &cfg.Providers.Transcribe[i]
			if e.Name == "openai" && e.APIKey == "" {
				e.APIKey = v
			}
		}
	}
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.TraceSampleRatio == 0 {
		cfg.Server.TraceSampleRatio = 1
	}

	r := &cfg.Recorder
	if r.VADMode == "" {
		r.VADMode = DefaultVADMode
	}
	if r.SilenceDurationMs == 0 {
		r.SilenceDurationMs = DefaultSilenceDurationMs
	}
	if r.SpeechDurationMs == 0 {
		r.SpeechDurationMs = DefaultSpeechDurationMs
	}
	if r.MaxDuration == 0 {
		r.MaxDuration = DefaultMaxDuration
	}
	if r.MinDuration == 0 {
		r.MinDuration = DefaultMinDuration
	}
	if r.StorageRoot == "" {
		r.StorageRoot = "."
	}

	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "portaudio"
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "webrtc"
	}

	t := &cfg.Transcribe
	if t.Language == "" {
		t.Language = "en"
	}
	if t.Timeout == 0 {
		t.Timeout = DefaultTranscribeTimeout
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}
	if cfg.Server.TraceSampleRatio < 0 || cfg.Server.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", cfg.Server.TraceSampleRatio))
	}

	// Recorder
	r := cfg.Recorder
	if r.VADMode != "" {
		if _, err := vad.ParseMode(r.VADMode); err != nil {
			errs = append(errs, fmt.Errorf("recorder.vad_mode: %w", err))
		}
	}
	if r.SilenceDurationMs < 0 {
		errs = append(errs, fmt.Errorf("recorder.silence_duration_ms must not be negative"))
	}
	if r.SpeechDurationMs < 0 {
		errs = append(errs, fmt.Errorf("recorder.speech_duration_ms must not be negative"))
	}
	if r.NoSpeechTimeout < 0 {
		errs = append(errs, fmt.Errorf("recorder.no_speech_timeout must not be negative"))
	}
	if r.MaxDuration < 0 || r.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("recorder durations must not be negative"))
	}
	if r.MaxDuration > 0 && r.MinDuration >= r.MaxDuration {
		errs = append(errs, fmt.Errorf("recorder.min_duration %s must be shorter than recorder.max_duration %s", r.MinDuration, r.MaxDuration))
	}
	if r.QueueSize < 0 || r.OutboxSize < 0 {
		errs = append(errs, fmt.Errorf("recorder queue sizes must not be negative"))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	seen := make(map[string]int, len(cfg.Providers.Transcribe))
	for i, e := range cfg.Providers.Transcribe {
		prefix := fmt.Sprintf("providers.transcribe[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("transcribe", e.Name)
		key := e.Name + "|" + e.BaseURL + "|" + e.Model
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s duplicates providers.transcribe[%d]", prefix, prev))
		}
		seen[key] = i
		switch e.Name {
		case "whisper":
			if e.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s.base_url is required for whisper", prefix))
			}
		case "whisper-native":
			if e.Model == "" {
				errs = append(errs, fmt.Errorf("%s.model (model file path) is required for whisper-native", prefix))
			}
		case "openai":
			if e.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s.api_key is required for openai (or set %s)", prefix, EnvOpenAIAPIKey))
			}
		}
	}

	// Transcribe
	if cfg.Transcribe.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcribe.timeout must not be negative"))
	}
	if cfg.Transcribe.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transcribe.max_failures must not be negative"))
	}
	if cfg.Transcribe.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("transcribe.reset_timeout must not be negative"))
	}
	if cfg.TranscribeEnabled() && len(cfg.Providers.Transcribe) == 0 && cfg.Transcribe.Enabled != nil {
		errs = append(errs, fmt.Errorf("transcribe.enabled is set but providers.transcribe is empty"))
	}

	// Catalog
	if cfg.Catalog.PostgresDSN == "" && cfg.TranscribeEnabled() {
		slog.Warn("catalog.postgres_dsn is empty; transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}

// TranscribeEnabled reports whether the transcription consumer should run.
func (c *Config) TranscribeEnabled() bool {
	if c.Transcribe.Enabled != nil {
		return *c.Transcribe.Enabled
	}
	return len(c.Providers.Transcribe) > 0
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
