// Package app wires the livescribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New acquires the audio source and
// builds the pipeline, Run captures and transcribes until stopped, and
// Shutdown releases everything in order.
//
// For testing, inject doubles through [Providers] and the functional options
// (WithStore, WithMetrics, WithOutput). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/pipeline"
	"github.com/MrWong99/livescribe/internal/resilience"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/internal/transcript/postgres"
	"github.com/MrWong99/livescribe/pkg/provider/mic"
	"github.com/MrWong99/livescribe/pkg/provider/mic/wavfile"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/vad"
)

// storeWriteTimeout bounds a single transcript store write.
const storeWriteTimeout = 5 * time.Second

// NamedTranscriber is one configured STT backend.
type NamedTranscriber struct {
	Name        string
	Transcriber stt.Transcriber
}

// Providers holds the components the pipeline runs on. Populated by main via
// the config registry.
type Providers struct {
	// Opener acquires the audio source: a microphone or a WAV file.
	Opener mic.Opener

	// Classifier labels frames as speech or silence.
	Classifier vad.Classifier

	// Transcribers in failover order. The first is the primary.
	Transcribers []NamedTranscriber
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	logLevel  *slog.LevelVar
	metrics   *observe.Metrics
	out       io.Writer

	store     transcript.Store
	sessionID string
	source    mic.Source
	stt       *resilience.TranscriberFallback
	pipeline  *pipeline.Pipeline
	health    *health.Handler

	metricsHandler http.Handler
	server         *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithStore injects a transcript store instead of creating one from config.
func WithStore(s transcript.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metric instruments. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics when server.listen_addr is set.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithOutput sets where transcript lines are printed. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLogLevel lets config reloads change the level of the handler behind
// the logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// New creates an App. It opens the audio source, connects the transcript
// store and builds the pipeline; on error everything acquired so far is
// released.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Opener == nil || providers.Classifier == nil || len(providers.Transcribers) == 0 {
		return nil, errors.New("app: an opener, a classifier and at least one transcriber are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		out:       os.Stdout,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	if err := a.initStore(ctx); err != nil {
		return fmt.Errorf("app: init store: %w", err)
	}
	a.initTranscriber()
	if err := a.initSource(ctx); err != nil {
		return fmt.Errorf("app: open audio source: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		return fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initHealth()
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	a.sessionID = a.cfg.Store.SessionID
	if a.sessionID == "" {
		a.sessionID = "session-" + time.Now().UTC().Format("20060102T150405")
	}
	if a.store != nil {
		return nil
	}
	if a.cfg.Store.PostgresDSN == "" {
		a.store = transcript.NewMemoryStore()
		return nil
	}
	pg, err := postgres.NewStore(ctx, a.cfg.Store.PostgresDSN)
	if err != nil {
		return err
	}
	a.store = transcript.NewGuard(pg, a.log)
	a.closers = append(a.closers, func() error { pg.Close(); return nil })
	a.log.Info("transcripts are stored in postgres", "session_id", a.sessionID)
	return nil
}

func (a *App) initTranscriber() {
	cb := a.cfg.Providers.CircuitBreaker
	primary := a.providers.Transcribers[0]
	a.stt = resilience.NewTranscriberFallback(primary.Transcriber, primary.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cb.MaxFailures,
			ResetTimeout: cb.ResetTimeout,
			HalfOpenMax:  cb.HalfOpenMax,
		},
	})
	for _, fb := range a.providers.Transcribers[1:] {
		a.stt.AddFallback(fb.Name, fb.Transcriber)
	}
	for _, nt := range a.providers.Transcribers {
		if c, ok := nt.Transcriber.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
}

func (a *App) initSource(ctx context.Context) error {
	device := -1
	if a.cfg.Audio.Device != nil {
		device = *a.cfg.Audio.Device
	}
	src, err := a.providers.Opener.Open(ctx, device)
	if err != nil {
		return err
	}
	a.source = src
	a.closers = append(a.closers, src.Close)
	return nil
}

func (a *App) initPipeline() error {
	var recorder pipeline.Recorder
	if dir := a.cfg.Audio.RecordDir; dir != "" {
		r, err := wavfile.NewRecorder(dir, a.cfg.Audio.SampleRate)
		if err != nil {
			return err
		}
		recorder = r
	}

	p, err := pipeline.New(pipelineConfig(a.cfg), pipeline.Deps{
		Source:      a.source,
		Classifier:  a.providers.Classifier,
		Transcriber: a.stt,
		Logger:      a.log,
		Metrics:     a.metrics,
		Recorder:    recorder,
	})
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

func (a *App) initHealth() {
	a.health = health.New(
		health.For("pipeline", a.pipeline),
		health.For("stt", a.stt),
	)
	if p, ok := a.store.(health.Probe); ok {
		a.health.Add(health.For("store", p))
	}
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics, a.log)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// pipelineConfig maps the file config onto the pipeline's own.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		SampleRate:        cfg.Audio.SampleRate,
		FrameMs:           cfg.Audio.FrameMs,
		PaddingMs:         cfg.Audio.PaddingMs,
		ListenTimeout:     cfg.Audio.ListenTimeout,
		Calibration:       cfg.Audio.Calibration,
		Language:          cfg.Recognition.Language,
		MinAudio:          cfg.Recognition.MinAudio,
		MaxAttempts:       cfg.Recognition.MaxAttempts,
		DrainTimeout:      cfg.Recognition.DrainTimeout,
		PollInterval:      cfg.Pipeline.PollInterval,
		MaxQueuedSegments: cfg.Pipeline.MaxQueuedSegments,
	}
}

// SessionID returns the identifier stored with every outcome of this run.
func (a *App) SessionID() string { return a.sessionID }

// Store returns the transcript store.
func (a *App) Store() transcript.Store { return a.store }

// Health returns the health handler, e.g. for mounting on another mux.
func (a *App) Health() *health.Handler { return a.health }

// Pipeline returns the underlying pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Run serves health and metrics if configured and runs the pipeline until
// ctx is cancelled, Stop is called, or a finite source is exhausted.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		go func() {
			a.log.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("http server failed", "err", err)
			}
		}()
	}
	return a.pipeline.Run(ctx, a.handle)
}

// Stop ends a running pipeline and waits for Run to return.
func (a *App) Stop() { a.pipeline.Stop() }

// handle prints and stores one outcome. It runs on the Run goroutine.
func (a *App) handle(out pipeline.Outcome) {
	fmt.Fprintln(a.out, out.String())

	entry := entryFromOutcome(a.sessionID, out)
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := a.store.Write(ctx, entry); err != nil {
		a.log.Warn("failed to store outcome", "kind", entry.Kind, "err", err)
	}
}

func entryFromOutcome(sessionID string, out pipeline.Outcome) transcript.Entry {
	text := out.Transcript
	if !out.OK() {
		text = out.Failure.Detail
	}
	return transcript.Entry{
		SessionID:       sessionID,
		Kind:            out.Kind(),
		Text:            text,
		Language:        out.Language,
		Attempt:         out.Attempt,
		SegmentStart:    out.SegmentStart,
		SegmentDuration: out.SegmentDuration,
		At:              out.At,
	}
}

// ApplyConfig applies the live-reloadable part of a changed config: the log
// level and the recognition language. Other changes are logged as requiring
// a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LanguageChanged {
		a.pipeline.SetLanguage(d.NewLanguage)
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes take effect after a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config log level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
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

// Shutdown stops the pipeline, the HTTP server and then runs the closers in
// order. If ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if a.pipeline != nil {
			a.pipeline.Stop()
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				a.log.Warn("http server shutdown", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
