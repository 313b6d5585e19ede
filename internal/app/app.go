// Package app wires the assessment pipeline from configuration.
//
// The App struct owns the full lifecycle: New builds the transcoder,
// decoder guard, phonemizer cache, assessor and readiness checks, Serve runs
// the optional metrics listener, and Shutdown tears everything down in
// order.
//
// For testing, inject mock implementations through [Providers] and the
// functional options. When a provider slot is nil, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/readtutor/internal/assess"
	"github.com/MrWong99/readtutor/internal/batch"
	"github.com/MrWong99/readtutor/internal/config"
	"github.com/MrWong99/readtutor/internal/health"
	"github.com/MrWong99/readtutor/internal/match"
	"github.com/MrWong99/readtutor/internal/observe"
	"github.com/MrWong99/readtutor/internal/resilience"
	"github.com/MrWong99/readtutor/pkg/audio"
	"github.com/MrWong99/readtutor/pkg/audio/ffmpeg"
	"github.com/MrWong99/readtutor/pkg/provider/phonemizer"
	"github.com/MrWong99/readtutor/pkg/provider/stt"
)

// Providers holds one interface value per pipeline slot. Decoder and
// Phonemizer are populated by main.go via the config registry; a nil
// Transcoder is built from the transcoder config.
type Providers struct {
	Transcoder audio.Transcoder
	Decoder    stt.Provider
	Phonemizer phonemizer.Provider
}

// pooled is implemented by decoders that bound concurrent inference.
type pooled interface {
	InUse() int
	PoolSize() int
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers Providers

	metrics  *observe.Metrics
	registry *prometheus.Registry

	assessor *assess.Assessor
	health   *health.Handler
	breaker  *resilience.CircuitBreaker

	mu     sync.Mutex
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records pipeline metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPrometheusRegistry serves /metrics from reg instead of the default
// gatherer.
func WithPrometheusRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. A decoder and a
// phonemizer are required.
func New(cfg *config.Config, providers Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	var errs []error
	if providers.Decoder == nil {
		errs = append(errs, errors.New("decoder is required"))
	}
	if providers.Phonemizer == nil {
		errs = append(errs, errors.New("phonemizer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	var checkers []health.Checker

	// ── 1. Transcoder ────────────────────────────────────────────────────
	tr := providers.Transcoder
	if tr == nil {
		ff := ffmpeg.New(ffmpeg.WithBinary(cfg.Transcoder.FFmpegPath))
		tr = audio.NewChain(audio.WithFallback(ff), audio.WithNative(cfg.Transcoder.NativeEnabled()))
		checkers = append(checkers, health.Binary("ffmpeg", ff.Binary()))
	}

	// ── 2. Decoder ───────────────────────────────────────────────────────
	dec, err := a.initDecoder(providers.Decoder)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init decoder: %w", err)
	}
	checkers = append(checkers, health.Decoder(dec))
	if a.breaker != nil {
		checkers = append(checkers, health.Breaker(a.breaker))
	}

	// ── 3. Phonemizer ────────────────────────────────────────────────────
	ph, err := a.initPhonemizer(providers.Phonemizer)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init phonemizer: %w", err)
	}
	if b, ok := providers.Phonemizer.(interface{ Binary() string }); ok {
		checkers = append(checkers, health.Binary("espeak-ng", b.Binary()))
	}
	checkers = append(checkers, health.Voice(providers.Phonemizer, cfg.Match.Language))

	// ── 4. Assessor ──────────────────────────────────────────────────────
	a.assessor, err = assess.New(tr, dec, ph, match.New(),
		assess.WithTimeouts(cfg.Timeouts),
		assess.WithMetrics(a.metrics),
		assess.WithWordFeedback(match.NewAligner()),
	)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}

	a.health = health.New(checkers...)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDecoder exposes pool occupancy for local models and puts remote
// decoders behind a circuit breaker.
func (a *App) initDecoder(dec stt.Provider) (stt.Provider, error) {
	name := a.cfg.Decoder.Name
	if c, ok := dec.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	if p, ok := dec.(pooled); ok {
		if err := a.metrics.ObserveDecoderPool(name, p.InUse, p.PoolSize); err != nil {
			return nil, err
		}
		slog.Info("decoder ready", "decoder", name, "pool_size", p.PoolSize())
		return dec, nil
	}

	cb := a.cfg.Decoder.CircuitBreaker
	guarded := resilience.NewSTTBreaker(dec, resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
		OnStateChange: func(name string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	})
	a.breaker = guarded.Breaker()
	slog.Info("decoder ready", "decoder", name, "circuit_breaker", true)
	return guarded, nil
}

func (a *App) initPhonemizer(ph phonemizer.Provider) (phonemizer.Provider, error) {
	size := a.cfg.Phonemizer.CacheSize
	if size <= 0 {
		return ph, nil
	}
	cached, err := phonemizer.NewCached(ph, size)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		cached.Close()
		return nil
	})
	return cached, nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Assessor returns the wired pipeline.
func (a *App) Assessor() *assess.Assessor { return a.assessor }

// Health returns the readiness checks.
func (a *App) Health() *health.Handler { return a.health }

// Breaker returns the decoder's circuit breaker, or nil for local decoders.
func (a *App) Breaker() *resilience.CircuitBreaker { return a.breaker }

// BatchRunner returns a runner over the assessor configured with the
// config's match defaults and concurrency.
func (a *App) BatchRunner() *batch.Runner {
	return batch.NewRunner(a.assessor,
		batch.WithConcurrency(a.cfg.Batch.Concurrency),
		batch.WithDefaults(a.cfg.Match),
	)
}

// ─── Metrics listener ────────────────────────────────────────────────────────

// Handler returns the metrics listener's routes: /metrics, /healthz and
// /readyz, wrapped in the tracing middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.MetricsHandler(a.registry))
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Serve starts the metrics listener on server.metrics_addr in the
// background and returns the bound address. It is a no-op returning "" when
// no address is configured.
func (a *App) Serve() (string, error) {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		return "", nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("app: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.mu.Lock()
	a.server = srv
	a.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener stopped", "addr", addr, "err", err)
		}
	}()
	slog.Info("metrics listener started", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the metrics listener and releases providers. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Debug("shutting down", "closers", len(a.closers))

		a.mu.Lock()
		srv := a.server
		a.mu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("metrics listener shutdown error", "err", err)
			}
		}

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
	})
	return shutdownErr
}

// closeAll releases whatever New acquired before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
