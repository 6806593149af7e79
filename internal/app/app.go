// Package app wires all earshot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture worker, the transcription consumer and
// the HTTP server until the context ends, and Shutdown releases resources.
//
// For testing, inject doubles via functional options (WithCatalog,
// WithAuthorizer, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/catalog"
	"github.com/MrWong99/earshot/internal/catalog/postgres"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/control"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/transcribe"
	"github.com/MrWong99/earshot/internal/transcribe/vocab"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry.
type Providers struct {
	// Audio opens the microphone. Required.
	Audio audio.Opener

	// VAD gates sessions on speech. Nil disables gating.
	VAD vad.Engine

	// Transcriber is the STT backend, usually a failover group. Nil only
	// catalogs recordings.
	Transcriber stt.Provider

	// TranscriberName labels transcripts when Transcriber cannot name the
	// backend that answered.
	TranscriberName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	logLevel   *slog.LevelVar
	authorizer recorder.Authorizer
	route      recorder.Route

	// Subsystems, initialised in New.
	catalog  catalog.Store
	hub      *control.Hub
	recorder *recorder.Recorder
	consumer *transcribe.Consumer
	handler  http.Handler
	server   *http.Server

	settings atomic.Pointer[recorder.Settings]
	addr     atomic.Pointer[string]

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCatalog injects a catalog store instead of creating one from config.
func WithCatalog(s catalog.Store) Option {
	return func(a *App) { a.catalog = s }
}

// WithMetrics uses m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets hot reloads change the level of the installed logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithAuthorizer sets the capture permission check.
func WithAuthorizer(az recorder.Authorizer) Option {
	return func(a *App) { a.authorizer = az }
}

// WithRoute sets the platform audio route acquired around each session.
func WithRoute(r recorder.Route) Option {
	return func(a *App) { a.route = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil {
		return nil, errors.New("app: an audio provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	s := cfg.Recorder.Settings()
	a.settings.Store(&s)

	// ── 1. Catalog ───────────────────────────────────────────────────────
	if err := a.initCatalog(ctx); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 2. Recorder ──────────────────────────────────────────────────────
	a.hub = control.NewHub()
	rec, err := recorder.New(recorder.Config{
		Opener:      providers.Audio,
		VAD:         providers.VAD,
		Authorizer:  a.authorizer,
		Route:       a.route,
		Namer:       recorder.DirNamer{Root: cfg.Recorder.StorageRoot},
		Settings:    a.Settings,
		Listeners:   []recorder.Listener{a.hub},
		Metrics:     a.metrics,
		MaxDuration: cfg.Recorder.MaxDuration,
		MinDuration: cfg.Recorder.MinDuration,
		QueueSize:   cfg.Recorder.QueueSize,
		OutboxSize:  cfg.Recorder.OutboxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}
	a.recorder = rec

	// ── 3. Transcription consumer ────────────────────────────────────────
	a.consumer, err = transcribe.New(transcribe.Config{
		Source:       rec.Recordings(),
		Transcriber:  providers.Transcriber,
		ProviderName: providers.TranscriberName,
		Store:        a.catalog,
		Language:     cfg.Transcribe.Language,
		Vocabulary:   vocabulary(cfg.Transcribe.Vocabulary),
		Timeout:      cfg.Transcribe.Timeout,
		OnResult:     a.hub.OnResult,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init transcription: %w", err)
	}

	// ── 4. HTTP surface ──────────────────────────────────────────────────
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCatalog connects to PostgreSQL when a DSN is configured and falls back
// to an in-memory catalog otherwise.
func (a *App) initCatalog(ctx context.Context) error {
	if a.catalog != nil {
		return nil
	}
	dsn := a.cfg.Catalog.PostgresDSN
	if dsn == "" {
		slog.Info("using in-memory catalog")
		a.catalog = catalog.NewMemStore()
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.catalog = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("connected to postgres catalog")
	return nil
}

// pinger is implemented by catalogs backed by a remote database.
type pinger interface {
	Ping(ctx context.Context) error
}

func (a *App) initHTTP() error {
	cc := control.Config{
		Recorder: a.recorder,
		Catalog:  a.catalog,
		Hub:      a.hub,
	}
	if f, ok := a.providers.Transcriber.(control.Failover); ok {
		cc.Transcribers = f
	}
	ctl, err := control.New(cc)
	if err != nil {
		return err
	}

	checks := []health.Checker{health.WorkerCheck("recorder", a.recorder.Working)}
	if p, ok := a.catalog.(pinger); ok {
		checks = append(checks, health.Optional(health.PingCheck("catalog", p.Ping)))
	}

	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	ctl.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Settings returns the current per-session recorder thresholds.
func (a *App) Settings() recorder.Settings { return *a.settings.Load() }

// Recorder exposes the capture engine.
func (a *App) Recorder() *recorder.Recorder { return a.recorder }

// Catalog exposes the recording catalog.
func (a *App) Catalog() catalog.Store { return a.catalog }

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler { return a.handler }

// Addr returns the address the HTTP server is listening on, or "" before Run
// has bound it.
func (a *App) Addr() string {
	if p := a.addr.Load(); p != nil {
		return *p
	}
	return ""
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between old and new.
// It is meant to be passed to [config.NewWatcher].
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RecorderChanged {
		s := new.Recorder.Settings()
		a.settings.Store(&s)
		slog.Info("recorder settings reloaded",
			"vad_enabled", s.VADEnabled,
			"vad_mode", s.VADMode,
			"silence_ms", s.SilenceDurationMs,
			"speech_ms", s.SpeechDurationMs,
			"no_speech_timeout", s.NoSpeechTimeout,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "settings", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the capture worker, the transcription consumer and the HTTP
// server, and blocks until ctx is cancelled or one of them fails. When ctx is
// done, Run returns ctx.Err() after the HTTP server has drained.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
	}
	addr := ln.Addr().String()
	a.addr.Store(&addr)

	g, gctx := errgroup.WithContext(ctx)
	// Websocket handlers outlive Shutdown; tie request contexts to the group.
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error { return a.recorder.Run(gctx) })
	g.Go(func() error { return a.consumer.Run(gctx) })
	g.Go(func() error {
		if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := a.server.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
		return nil
	})

	slog.Info("app running", "addr", addr, "transcription", a.providers.Transcriber != nil)
	err = g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases all subsystems. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// AddCloser registers fn to run during Shutdown, after the closers New
// registered.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

func vocabulary(terms []string) *vocab.Corrector {
	c := vocab.New(terms)
	if c.Len() == 0 {
		return nil
	}
	return c
}
