// Package app wires all uttermon subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the segmentation,
// transcription and HTTP stages from the config and the providers created by
// main, Run starts capture and drives the pipeline until its context is
// cancelled, and Shutdown releases everything in order.
//
// For testing, inject doubles through [Providers] and the functional options
// (WithListener, WithMetrics, WithOutput, ...).
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
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/uttermon/internal/config"
	"github.com/MrWong99/uttermon/internal/health"
	"github.com/MrWong99/uttermon/internal/observe"
	"github.com/MrWong99/uttermon/internal/transcribe"
	"github.com/MrWong99/uttermon/internal/web"
	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/provider/stt"
	"github.com/MrWong99/uttermon/pkg/provider/vad"
	"github.com/MrWong99/uttermon/pkg/utterance"
)

// serverShutdownTimeout bounds the HTTP server drain inside Run.
const serverShutdownTimeout = 5 * time.Second

// Providers holds the provider instances built by main via the config
// registry. Audio, VAD and STT are required.
type Providers struct {
	Audio audio.Source
	VAD   vad.Engine
	STT   stt.Provider

	// STTName labels transcription metrics and spans.
	STTName string

	// Closers release provider resources (loaded models, clients) during
	// Shutdown, in order.
	Closers []io.Closer
}

// App owns all subsystem lifetimes and orchestrates the capture pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	levelVar   *slog.LevelVar
	output     io.Writer
	extraSinks []transcribe.Sink
	ln         net.Listener
	metricsH   http.Handler
	now        func() time.Time

	// Subsystems, initialised in New.
	segmenter  *utterance.Segmenter
	listener   *utterance.Listener
	dispatcher *transcribe.Dispatcher
	hub        *web.Hub
	server     *http.Server

	started   atomic.Bool
	lastFrame atomic.Int64
	lastSeq   atomic.Int64

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics overrides the metrics instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar sets the level variable that hot reload adjusts when
// server.log_level changes.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithOutput sets where the console transcript lines are written. The
// default is stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.output = w }
}

// WithSinks adds transcript sinks next to the console and websocket feed.
func WithSinks(sinks ...transcribe.Sink) Option {
	return func(a *App) { a.extraSinks = append(a.extraSinks, sinks...) }
}

// WithListener serves HTTP on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.ln = ln }
}

// WithMetricsHandler replaces the /metrics handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithClock overrides the wall clock used by the capture health check.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all stages together. It does not touch the
// audio device; that happens in Run.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Audio == nil || providers.VAD == nil || providers.STT == nil {
		return nil, errors.New("app: audio, vad and stt providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		output:    os.Stdout,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsH == nil {
		a.metricsH = observe.MetricsHandler()
	}
	a.lastSeq.Store(-1)

	// ── 1. Segmentation ──────────────────────────────────────────────────
	seg, err := utterance.NewSegmenter(providers.VAD, segmenterConfig(cfg),
		utterance.WithDiscardHook(func(int) {
			a.metrics.RecordUtterance(context.Background(), observe.OutcomeDiscarded, 0)
		}),
		utterance.WithStateHook(func(speaking bool) {
			a.metrics.RecordVADState(context.Background(), speaking)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: init segmenter: %w", err)
	}
	a.segmenter = seg
	a.listener = utterance.NewListener(providers.Audio, seg,
		utterance.WithFrameHook(a.onFrame),
		utterance.WithStatusHook(func(s audio.Status) {
			a.metrics.RecordFrameStatus(context.Background(), s.String())
		}),
	)

	// ── 2. Transcription ─────────────────────────────────────────────────
	task, err := stt.ParseTask(cfg.Transcription.Task)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.hub = web.NewHub(
		web.WithMetrics(a.metrics),
		web.WithOriginPatterns(cfg.Server.AllowedOrigins...),
	)
	sinks := append([]transcribe.Sink{transcribe.NewConsoleSink(a.output), a.hub}, a.extraSinks...)
	a.dispatcher = transcribe.New(providers.STT,
		transcribe.Config{
			Workers:      cfg.Transcription.Workers,
			Timeout:      cfg.Transcription.Timeout,
			Language:     cfg.Transcription.Language,
			Task:         task,
			ProviderName: providers.STTName,
		},
		transcribe.WithSinks(sinks...),
		transcribe.WithFilters(filters(cfg.Transcription)...),
		transcribe.WithMetrics(a.metrics),
	)

	// ── 3. HTTP ──────────────────────────────────────────────────────────
	if a.ln != nil || cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Handler:           observe.Middleware(a.metrics)(a.routes()),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	return a, nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metricsH)

	checkers := []health.Checker{
		health.CaptureChecker(captureStatus{a}, health.DefaultFrameMaxAge, a.now),
	}
	if h, ok := a.providers.STT.(interface{ Healthy() bool }); ok {
		checkers = append(checkers, health.STTChecker(h))
	}
	health.New(checkers...).Register(mux)
	a.hub.Register(mux)
	return mux
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the audio device and drives the pipeline until ctx is cancelled
// or the classifier fails. A device error is returned before any goroutine is
// started. After cancellation, frames already queued are still segmented and
// utterances already queued are still transcribed before Run returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.providers.Audio.Start(ctx); err != nil {
		return fmt.Errorf("app: start audio: %w", err)
	}
	a.started.Store(true)

	ln := a.ln
	if a.server != nil && ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			_ = a.providers.Audio.Stop()
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	slog.Info("capture started",
		"sample_rate", a.cfg.Audio.SampleRate,
		"window_ms", a.cfg.VAD.WindowMs,
		"max_silence", a.cfg.VAD.MaxSilenceDuration(),
		"stt", a.providers.STTName,
	)

	g, gctx := errgroup.WithContext(ctx)

	raw := make(chan utterance.Utterance)
	queued := make(chan utterance.Utterance, a.cfg.Transcription.QueueSize)

	g.Go(func() error { return a.listener.Run(gctx, raw) })
	g.Go(func() error {
		defer close(queued)
		for u := range raw {
			a.metrics.RecordUtterance(gctx, observe.OutcomeEmitted, u.Duration.Seconds())
			queued <- u
		}
		return nil
	})
	g.Go(func() error {
		// Keeps forward from blocking if the dispatcher returns early.
		defer audio.Drain(queued)
		return a.dispatcher.Run(gctx, queued)
	})

	if a.server != nil {
		slog.Info("http server listening", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			a.hub.Close()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	return g.Wait()
}

// onFrame runs on the listener goroutine for every frame.
func (a *App) onFrame(f audio.Frame) {
	ctx := context.Background()
	a.metrics.Frames.Add(ctx, 1)
	a.lastFrame.Store(a.now().UnixNano())

	// Frames dropped at the driver still consumed a sequence number.
	prev := a.lastSeq.Swap(int64(f.Seq))
	if gap := int64(f.Seq) - prev - 1; prev >= 0 && gap > 0 {
		a.metrics.DroppedFrames.Add(ctx, gap)
		slog.Warn("audio frames dropped, consumer fell behind",
			"count", gap,
			"lost", time.Duration(gap)*f.Duration(),
			"seq", f.Seq,
		)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a config change. It is meant
// as the [config.Watcher] callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SuppressionChanged {
		a.dispatcher.SetFilters(filters(new.Transcription)...)
		slog.Info("transcript suppression updated",
			"phrases", len(new.Transcription.SuppressPhrases),
			"no_speech_threshold", deref(new.Transcription.NoSpeechThreshold, stt.DefaultNoSpeechThreshold),
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "sections", d.RestartRequired)
	}
}

// Stats returns the transcription counters.
func (a *App) Stats() transcribe.Stats { return a.dispatcher.Stats() }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the audio device, the feed, the classifier session and
// the provider closers in that order. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		closers := []func() error{
			a.providers.Audio.Stop,
			func() error { a.hub.Close(); return nil },
			a.segmenter.Close,
		}
		for _, c := range a.providers.Closers {
			closers = append(closers, c.Close)
		}
		slog.Info("shutting down", "closers", len(closers))

		for i, closer := range closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
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

// ─── Helpers ─────────────────────────────────────────────────────────────────

type captureStatus struct{ a *App }

func (c captureStatus) Started() bool { return c.a.started.Load() }

func (c captureStatus) LastFrame() time.Time {
	ns := c.a.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func segmenterConfig(cfg *config.Config) utterance.SegmenterConfig {
	return utterance.SegmenterConfig{
		Detector: utterance.DetectorConfig{
			SampleRate:     cfg.Audio.SampleRate,
			WindowMs:       cfg.VAD.WindowMs,
			Aggressiveness: deref(cfg.VAD.Aggressiveness, config.DefaultAggressiveness),
			MaxSilence:     cfg.VAD.MaxSilenceDuration(),
		},
		Taper: deref(cfg.VAD.Taper, utterance.DefaultTaper),
	}
}

func filters(tc config.TranscriptionConfig) []stt.Filter {
	return transcribe.Filters(
		deref(tc.NoSpeechThreshold, stt.DefaultNoSpeechThreshold),
		tc.SuppressPhrases,
		tc.PhraseSimilarity,
	)
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
