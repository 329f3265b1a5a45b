// Package app wires all voxnote subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithSink, WithMetrics).
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxnote/voxnote/internal/config"
	"github.com/voxnote/voxnote/internal/gateway"
	"github.com/voxnote/voxnote/internal/health"
	"github.com/voxnote/voxnote/internal/notes"
	"github.com/voxnote/voxnote/internal/notes/postgres"
	"github.com/voxnote/voxnote/internal/observe"
	"github.com/voxnote/voxnote/pkg/provider/stt"
	"github.com/voxnote/voxnote/pkg/provider/vadmodel"
)

const defaultListenAddr = ":8080"

// Providers holds the provider implementations selected by the config.
// Populated by main.go via the config registry.
type Providers struct {
	STT stt.Provider
	VAD vadmodel.Model
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	manager *SessionManager
	server  *http.Server
	sink    notes.Sink
	metrics *observe.Metrics

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSink injects a note sink instead of creating one from config.
func WithSink(s notes.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects a metrics set instead of using the default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an STT provider is required")
	}
	if providers.VAD == nil {
		return nil, errors.New("app: a speech-confidence model is required")
	}

	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Note sink ─────────────────────────────────────────────────────
	checkers := []health.Checker{}
	if a.sink == nil {
		if dsn := cfg.Notes.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return nil, fmt.Errorf("app: init note store: %w", err)
			}
			a.sink = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
			checkers = append(checkers, health.Checker{Name: "notes", Check: store.Ping})
		} else {
			a.sink = notes.NewMemorySink()
			slog.Warn("no postgres DSN configured; notes are kept in memory only")
		}
	}

	// ── 2. Session manager ───────────────────────────────────────────────
	manager, err := NewSessionManager(SessionManagerConfig{
		Config:       cfg,
		Model:        providers.VAD,
		Transcriber:  providers.STT,
		ProviderName: cfg.Providers.STT.Name,
		Sink:         a.sink,
		Metrics:      a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.manager = manager

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	// The capture client runs inside arbitrary page origins.
	gw, err := gateway.New(manager, gateway.WithOriginPatterns("*"))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	gw.Register(mux)
	probes := health.New(checkers...)
	probes.ObserveSessions(manager.Count)
	probes.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Manager returns the session manager. Exposed for tests and the CLI.
func (a *App) Manager() *SessionManager { return a.manager }

// Run serves HTTP until ctx is cancelled or the listener fails. When ctx is
// done, Run returns ctx.Err(); call Shutdown to stop the server.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server listening", "addr", a.server.Addr, "tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops the HTTP server, tears down all sessions, and runs closers
// in reverse-init order. It respects the context deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		a.manager.Shutdown(ctx)

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
