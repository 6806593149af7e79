package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/earshot/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: verbose\n",
			wantSub: "log_level",
		},
		{
			name:    "invalid vad mode",
			yaml:    "recorder:\n  vad_mode: extreme\n",
			wantSub: "recorder.vad_mode",
		},
		{
			name:    "negative silence",
			yaml:    "recorder:\n  silence_duration_ms: -1\n",
			wantSub: "silence_duration_ms",
		},
		{
			name:    "min not below max",
			yaml:    "recorder:\n  max_duration: 1s\n  min_duration: 2s\n",
			wantSub: "min_duration",
		},
		{
			name:    "trace ratio out of range",
			yaml:    "server:\n  trace_sample_ratio: 1.5\n",
			wantSub: "trace_sample_ratio",
		},
		{
			name:    "whisper without base url",
			yaml:    "providers:\n  transcribe:\n    - name: whisper\n",
			wantSub: "base_url",
		},
		{
			name:    "native without model",
			yaml:    "providers:\n  transcribe:\n    - name: whisper-native\n",
			wantSub: "whisper-native",
		},
		{
			name:    "transcribe entry without name",
			yaml:    "providers:\n  transcribe:\n    - model: x\n",
			wantSub: "providers.transcribe[0].name",
		},
		{
			name: "duplicate transcribe entries",
			yaml: `
providers:
  transcribe:
    - name: whisper
      base_url: http://a
    - name: whisper
      base_url: http://a
`,
			wantSub: "duplicates",
		},
		{
			name:    "enabled without providers",
			yaml:    "transcribe:\n  enabled: true\n",
			wantSub: "providers.transcribe is empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantSub)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error should mention %q, got: %v", tt.wantSub, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
recorder:
  vad_mode: extreme
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "vad_mode") {
		t.Errorf("error should mention both fields, got: %v", err)
	}
}

func TestValidate_UnknownProviderNameOnlyWarns(t *testing.T) {
	t.Parallel()
	yaml := "providers:\n  vad:\n    name: silero\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should warn, not fail: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for kind, want := range map[string]string{
		"audio":      "portaudio",
		"vad":        "webrtc",
		"transcribe": "whisper",
	} {
		if !slices.Contains(config.ValidProviderNames[kind], want) {
			t.Errorf("ValidProviderNames[%q] should contain %q", kind, want)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		config.EnvLogLevel:     "warn",
		config.EnvListenAddr:   ":7000",
		config.EnvStorageRoot:  "/data",
		config.EnvPostgresDSN:  "postgres://env/earshot",
		config.EnvOpenAIAPIKey: "sk-env",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := &config.Config{}
	cfg.Providers.Transcribe = []config.ProviderEntry{
		{Name: "openai"},
		{Name: "openai", APIKey: "sk-file"},
		{Name: "whisper", BaseURL: "http://w"},
	}
	config.ApplyEnv(cfg, lookup)

	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("log_level: got %q, want warn", cfg.Server.LogLevel)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Recorder.StorageRoot != "/data" {
		t.Errorf("storage_root: got %q", cfg.Recorder.StorageRoot)
	}
	if cfg.Catalog.PostgresDSN != "postgres://env/earshot" {
		t.Errorf("postgres_dsn: got %q", cfg.Catalog.PostgresDSN)
	}
	if got := cfg.Providers.Transcribe[0].APIKey; got != "sk-env" {
		t.Errorf("openai key from env: got %q", got)
	}
	if got := cfg.Providers.Transcribe[1].APIKey; got != "sk-file" {
		t.Errorf("file key should win: got %q", got)
	}
	if got := cfg.Providers.Transcribe[2].APIKey; got != "" {
		t.Errorf("non-openai entry got key %q", got)
	}
}

func TestLoadFromReader_EnvOverridesFile(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "error")
	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: debug\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogError {
		t.Errorf("log_level: got %q, want error", cfg.Server.LogLevel)
	}
}

func TestLoadEnv(t *testing.T) {
	const key = "EARSHOT_TEST_LOADENV_VALUE"
	t.Cleanup(func() { os.Unsetenv(key) })

	if err := config.LoadEnv(""); err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if err := config.LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	writeFile(t, path, key+"=from-dotenv\n")
	if err := config.LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Errorf("%s: got %q, want from-dotenv", key, got)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Providers.Audio.Name != "portaudio" || cfg.Providers.VAD.Name != "webrtc" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if !cfg.TranscribeEnabled() {
		t.Error("example config should enable transcription")
	}
	if len(cfg.Transcribe.Vocabulary) == 0 {
		t.Error("example config should list a vocabulary")
	}
	if cfg.Recorder.NoSpeechTimeout <= 0 {
		t.Error("example config should bound sessions that hear no speech")
	}
}
