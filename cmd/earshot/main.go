// Command earshot is the main entry point for the earshot capture server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/earshot/internal/app"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/portaudio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	oaistt "github.com/MrWong99/earshot/pkg/provider/stt/openai"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file with secrets")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("earshot starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:      "earshot",
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Transcribe)

	providers, closers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		closeAll(closers)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		closeAll(closers)
		return 1
	}
	for _, c := range closers {
		application.AddCloser(c)
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// tc supplies the default recognition hint and request timeout for
// transcribers that take them at construction time.
func registerBuiltinProviders(reg *config.Registry, tc config.TranscribeConfig) {
	language := tc.Language
	// ── Audio ─────────────────────────────────────────────────────────────────
	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Opener, error) {
		var opts []portaudio.Option
		if dev := entry.OptionString("device", ""); dev != "" {
			opts = append(opts, portaudio.WithDevice(dev))
		}
		if rate := entry.OptionInt("device_rate", 0); rate > 0 {
			opts = append(opts, portaudio.WithDeviceRate(rate))
		}
		return portaudio.New(opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	registerWebRTCVAD(reg)
	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Transcribe ────────────────────────────────────────────────────────────
	reg.RegisterTranscribe("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", language); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscribe("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language", language); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := entry.OptionInt("threads", 0); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(entry.Model, opts...)
	})

	reg.RegisterTranscribe("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, oaistt.WithOrganization(org))
		}
		if lang := entry.OptionString("language", language); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if tc.Timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(tc.Timeout))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates all providers named in cfg using the registry.
// The returned closers release providers that hold native resources; they
// are returned even when err is non-nil.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []func() error, error) {
	ps := &app.Providers{}
	var closers []func() error
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}

	opener, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, closers, fmt.Errorf("create audio provider %q: %w", cfg.Providers.Audio.Name, err)
	}
	track(opener)
	ps.Audio = opener
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	if cfg.Recorder.Enabled() {
		engine, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, closers, fmt.Errorf("create vad provider %q: %w", cfg.Providers.VAD.Name, err)
		}
		ps.VAD = engine
		slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)
	}

	if !cfg.TranscribeEnabled() {
		slog.Info("transcription disabled; recordings are catalogued only")
		return ps, closers, nil
	}

	fbCfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Transcribe.MaxFailures,
		ResetTimeout: cfg.Transcribe.ResetTimeout,
	}}
	var group *resilience.STTFallback
	seen := make(map[string]int)
	for i, entry := range cfg.Providers.Transcribe {
		p, err := reg.CreateTranscribe(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create transcribe provider %q (index %d): %w", entry.Name, i, err)
		}
		track(p)

		name := entry.Name
		if n := seen[entry.Name]; n > 0 {
			name = fmt.Sprintf("%s#%d", entry.Name, n+1)
		}
		seen[entry.Name]++

		if group == nil {
			group = resilience.NewSTTFallback(p, name, fbCfg, nil)
		} else {
			group.AddFallback(name, p)
		}
		slog.Info("provider created", "kind", "transcribe", "name", name, "model", entry.Model)
	}
	ps.Transcriber = group
	ps.TranscriberName = cfg.Providers.Transcribe[0].Name
	return ps, closers, nil
}

func closeAll(closers []func() error) {
	for _, c := range closers {
		if err := c(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         earshot: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Audio", cfg.Providers.Audio.Name)
	if cfg.Recorder.Enabled() {
		printRow("VAD", cfg.Providers.VAD.Name+" / "+cfg.Recorder.VADMode)
	} else {
		printRow("VAD", "(disabled)")
	}
	if len(cfg.Providers.Transcribe) == 0 || !cfg.TranscribeEnabled() {
		printRow("Transcribe", "(disabled)")
	}
	if cfg.TranscribeEnabled() {
		for i, e := range cfg.Providers.Transcribe {
			kind := "Transcribe"
			if i > 0 {
				kind = "  fallback"
			}
			printRow(kind, e.Name)
		}
	}
	if cfg.Catalog.PostgresDSN != "" {
		printRow("Catalog", "postgres")
	} else {
		printRow("Catalog", "memory")
	}
	printRow("Budget", cfg.Recorder.MaxDuration.String())
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
