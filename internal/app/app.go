// Package app wires the vocalis subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the recognizer chain,
// the audio pipeline, the job runner and the HTTP front end; Run serves the
// API until its context is cancelled; Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithRecognizer,
// WithTranscoder, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalis/internal/api"
	"github.com/MrWong99/vocalis/internal/config"
	"github.com/MrWong99/vocalis/internal/health"
	"github.com/MrWong99/vocalis/internal/job"
	"github.com/MrWong99/vocalis/internal/normalize"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/recognize"
	"github.com/MrWong99/vocalis/internal/resilience"
	"github.com/MrWong99/vocalis/internal/transcoder"
	"github.com/MrWong99/vocalis/pkg/audio"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// HTTP server timeouts. WriteTimeout stays zero because the events stream
// holds its connection open for the life of a job.
const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 5 * time.Minute
	idleTimeout       = 2 * time.Minute
	drainTimeout      = 10 * time.Second
)

// Transcoder is the external decoder the pipeline falls back to. It extends
// [normalize.Transcoder] with a probe used by the readiness check.
// [*transcoder.FFmpeg] satisfies it.
type Transcoder interface {
	normalize.Transcoder
	Available() (string, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry

	// Subsystems, initialised in New and torn down in Shutdown.
	telemetry  *observe.Telemetry
	metrics    *observe.Metrics
	transcoder Transcoder
	recognizer stt.Recognizer
	breakers   func() map[string]resilience.State
	normalizer *normalize.Normalizer
	runner     *job.Runner
	health     *health.Handler
	api        *api.Server
	server     *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry sets the registry recognizers are created from. Required
// unless [WithRecognizer] is given.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithRecognizer injects a recognizer instead of creating one from config.
func WithRecognizer(r stt.Recognizer) Option {
	return func(a *App) { a.recognizer = r }
}

// WithTranscoder injects a transcoder instead of creating an ffmpeg wrapper.
func WithTranscoder(t Transcoder) Option {
	return func(a *App) { a.transcoder = t }
}

// WithMetrics injects metric instruments and skips telemetry provider setup.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Defaults are
// applied to cfg first; callers should pass a validated config.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	config.ApplyDefaults(cfg)

	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Recognizer chain ──────────────────────────────────────────────
	if err := a.initRecognizer(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}

	// ── 3. Audio pipeline ────────────────────────────────────────────────
	a.initPipeline()

	// ── 4. Job runner ────────────────────────────────────────────────────
	if err := a.initRunner(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init runner: %w", err)
	}

	// ── 5. Health + API ──────────────────────────────────────────────────
	if err := a.initAPI(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init api: %w", err)
	}

	slog.Info("application initialised",
		"recognizer", a.recognizer.Name(),
		"transcoder", a.transcoder != nil,
		"max_concurrent", cfg.Jobs.MaxConcurrent,
		"scratch_dir", a.normalizer.ScratchDir(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry sets up the OTel providers unless metrics were injected.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: a.cfg.Telemetry.ServiceName,
		SampleRatio: a.cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	a.telemetry = tel
	a.metrics = tel.Metrics
	return nil
}

// initRecognizer builds the primary recognizer and, when fallbacks are
// configured, puts every back-end behind a circuit breaker.
func (a *App) initRecognizer() error {
	if a.recognizer != nil {
		if fr, ok := a.recognizer.(*resilience.Recognizer); ok {
			a.breakers = fr.States
		}
		return nil
	}
	if a.registry == nil {
		return errors.New("no recognizer injected and no registry configured")
	}

	rc := a.cfg.Recognizer
	primary, err := a.create(rc.ProviderEntry)
	if err != nil {
		return err
	}
	if len(rc.Fallbacks) == 0 {
		a.recognizer = primary
		return nil
	}

	fr := resilience.NewRecognizer(primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  rc.CircuitBreaker.MaxFailures,
			ResetTimeout: rc.CircuitBreaker.ResetTimeout,
			HalfOpenMax:  rc.CircuitBreaker.HalfOpenMax,
		},
	})
	for _, entry := range rc.Fallbacks {
		rec, err := a.create(entry)
		if err != nil {
			return err
		}
		fr.AddFallback(rec)
	}
	a.recognizer = fr
	a.breakers = fr.States
	return nil
}

// create instantiates one recognizer and registers its Close, if any.
func (a *App) create(entry config.ProviderEntry) (stt.Recognizer, error) {
	rec, err := a.registry.CreateRecognizer(entry)
	if err != nil {
		return nil, err
	}
	if c, ok := rec.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	slog.Debug("recognizer created", "name", rec.Name())
	return rec, nil
}

// initPipeline sets up the transcoder, the normalizer and the scratch dir.
func (a *App) initPipeline() {
	tc := a.cfg.Transcoder
	if a.transcoder == nil && !tc.Disabled {
		a.transcoder = transcoder.New(
			transcoder.WithBinary(tc.FFmpegPath),
			transcoder.WithTimeout(tc.Timeout),
		)
	}
	if a.transcoder != nil {
		if path, err := a.transcoder.Available(); err != nil {
			slog.Warn("transcoder unavailable, falling back to in-process decoders only", "err", err)
		} else {
			slog.Debug("transcoder resolved", "path", path)
		}
	}

	opts := []normalize.Option{
		normalize.WithScratchDir(a.scratchDir()),
		normalize.WithMetrics(a.metrics),
	}
	// A nil interface must reach New as nil so the transcode strategy is
	// left out of the chain.
	var ntc normalize.Transcoder
	if a.transcoder != nil {
		ntc = a.transcoder
	}
	a.normalizer = normalize.New(ntc, opts...)
}

// initRunner builds the recognition driver and the job runner.
func (a *App) initRunner() error {
	driver := recognize.New(a.recognizer,
		recognize.WithWindow(a.cfg.Jobs.WindowSeconds*audio.TargetRate),
		recognize.WithMetrics(a.metrics),
	)
	runner, err := job.NewRunner(job.Config{
		Normalizer:      a.normalizer,
		Driver:          driver,
		MaxConcurrent:   a.cfg.Jobs.MaxConcurrent,
		DefaultLanguage: a.cfg.Scoring.DefaultLanguage,
		Metrics:         a.metrics,
	})
	if err != nil {
		return err
	}
	a.runner = runner
	return nil
}

// initAPI assembles readiness checks and the HTTP handler.
func (a *App) initAPI() error {
	checkers := []health.Checker{health.ScratchDir(a.scratchDir())}
	if a.transcoder != nil {
		checkers = append(checkers, health.Transcoder(a.transcoder.Available))
	}
	if a.breakers != nil {
		checkers = append(checkers, health.Breakers(a.breakers))
	}
	a.health = health.New(checkers...)

	cfg := api.Config{
		Jobs:           a.runner,
		UploadDir:      filepath.Join(a.scratchDir(), "uploads"),
		MaxUploadBytes: a.cfg.Server.MaxUploadMB << 20,
		Health:         a.health,
		Metrics:        a.metrics,
	}
	if a.telemetry != nil {
		cfg.MetricsHandler = a.telemetry.Handler
	}
	srv, err := api.New(cfg)
	if err != nil {
		return err
	}
	a.api = srv
	return nil
}

func (a *App) scratchDir() string {
	if d := a.cfg.Jobs.ScratchDir; d != "" {
		return d
	}
	return filepath.Join(os.TempDir(), "vocalis")
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Runner returns the job runner, for callers that process files without
// going through HTTP.
func (a *App) Runner() *job.Runner { return a.runner }

// Handler returns the HTTP handler serving the job API and probes.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Recognizer returns the configured recognizer chain.
func (a *App) Recognizer() stt.Recognizer { return a.recognizer }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the API on ln until ctx is cancelled, then drains in-flight
// requests. It returns nil on a clean stop.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	tls := a.cfg.Server.TLS

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api listening", "addr", ln.Addr().String(), "tls", tls != nil)
		var err error
		if tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: running jobs are cancelled, and if ctx expires before
// all closers finish the remaining ones are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}
		if a.runner != nil {
			if err := a.runner.Close(ctx); err != nil {
				slog.Warn("job runner did not stop cleanly", "err", err)
				shutdownErr = err
				return
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

		if a.telemetry != nil {
			if err := a.telemetry.Shutdown(ctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New created before a failed step.
func (a *App) closeAll() {
	if a.runner != nil {
		_ = a.runner.Close(context.Background())
	}
	for _, c := range a.closers {
		_ = c()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(context.Background())
	}
}
