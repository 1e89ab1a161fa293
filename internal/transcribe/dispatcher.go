package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/uttermon/internal/observe"
	"github.com/MrWong99/uttermon/pkg/provider/stt"
	"github.com/MrWong99/uttermon/pkg/utterance"
)

// Config holds the dispatcher settings.
type Config struct {
	// Workers is the maximum number of concurrent transcriptions. Values
	// below 1 select a single worker.
	Workers int

	// Timeout caps each provider call. Zero disables the timeout.
	Timeout time.Duration

	// Language is passed to the provider as a hint. Empty means auto-detect.
	Language string

	// Task selects transcription or translation.
	Task stt.Task

	// ProviderName labels metrics and spans.
	ProviderName string
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Submitted uint64
	Published uint64

	// Empty counts calls without a publishable result; Suppressed is the
	// subset dropped by a filter.
	Empty      uint64
	Suppressed uint64

	Failed uint64
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithSinks adds transcript sinks.
func WithSinks(sinks ...Sink) Option {
	return func(d *Dispatcher) { d.sinks = append(d.sinks, sinks...) }
}

// WithFilters sets the initial suppression filters.
func WithFilters(filters ...stt.Filter) Option {
	return func(d *Dispatcher) { d.filters = filters }
}

// WithMetrics overrides the metrics instruments. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock overrides the wall clock used for [Transcript.At].
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher runs utterances through an STT provider on a bounded worker
// pool.
type Dispatcher struct {
	cfg      Config
	provider *stt.SuppressingProvider
	sinks    []Sink
	filters  []stt.Filter
	metrics  *observe.Metrics
	now      func() time.Time

	submitted  atomic.Uint64
	published  atomic.Uint64
	suppressed atomic.Uint64
	empty      atomic.Uint64
	failed     atomic.Uint64
}

// New returns a Dispatcher that transcribes with p.
func New(p stt.Provider, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "stt"
	}
	d := &Dispatcher{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.provider = stt.Suppress(p, d.onSuppress, d.filters...)
	return d
}

// Filters returns the standard filter chain: empty text, the no-speech
// threshold and, when phrases is non-empty, the boilerplate phrase filter.
func Filters(noSpeechThreshold float64, phrases []string, similarity float64) []stt.Filter {
	fs := []stt.Filter{stt.EmptyFilter, stt.NoSpeechFilter(noSpeechThreshold)}
	if len(phrases) > 0 {
		fs = append(fs, stt.PhraseFilter(phrases, similarity))
	}
	return fs
}

// SetFilters replaces the suppression filters. Transcriptions already in
// flight may still use the previous set.
func (d *Dispatcher) SetFilters(filters ...stt.Filter) {
	d.provider.SetFilters(filters...)
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:  d.submitted.Load(),
		Published:  d.published.Load(),
		Suppressed: d.suppressed.Load(),
		Empty:      d.empty.Load(),
		Failed:     d.failed.Load(),
	}
}

// Run consumes in until it is closed and returns once every accepted
// utterance has been handled. When all workers are busy Run stops reading,
// so backpressure reaches the producer through the channel buffer.
//
// Cancelling ctx does not abandon utterances that are already queued: each is
// still transcribed, bounded by the per-request timeout. It always returns
// nil; the error result leaves room for errgroup composition.
func (d *Dispatcher) Run(ctx context.Context, in <-chan utterance.Utterance) error {
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for u := range in {
		d.submitted.Add(1)
		d.metrics.PendingTranscriptions.Add(ctx, 1)
		g.Go(func() error {
			defer d.metrics.PendingTranscriptions.Add(work, -1)
			d.handle(work, u)
			return nil
		})
	}
	return g.Wait()
}

// handle transcribes one utterance and publishes the result. Samples are
// handed to the provider without being copied or retained.
func (d *Dispatcher) handle(ctx context.Context, u utterance.Utterance) {
	ctx, span := observe.StartSpan(ctx, "transcribe.utterance",
		trace.WithAttributes(
			attribute.String("utterance.id", u.ID.String()),
			attribute.Float64("utterance.seconds", u.Duration.Seconds()),
			attribute.String("stt.provider", d.cfg.ProviderName),
		),
	)
	var spanErr error
	defer func() { observe.EndSpan(span, spanErr) }()

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	log := observe.Logger(ctx).With("utterance", u.ID.String())
	start := time.Now()
	res, err := d.provider.Transcribe(ctx, stt.Request{
		Samples:    u.Samples,
		SampleRate: u.SampleRate,
		Language:   d.cfg.Language,
		Task:       d.cfg.Task,
	})
	took := time.Since(start)
	d.metrics.STTDuration.Record(ctx, took.Seconds(),
		metric.WithAttributes(attribute.String("provider", d.cfg.ProviderName)))

	switch {
	case err != nil:
		spanErr = fmt.Errorf("transcribe: utterance %s: %w", u.ID, err)
		d.failed.Add(1)
		d.metrics.RecordSTTRequest(ctx, d.cfg.ProviderName, "error")
		d.metrics.RecordSTTError(ctx, d.cfg.ProviderName)
		log.Warn("transcription failed", "err", err, "audio_seconds", u.Duration.Seconds())
		return
	case res == nil:
		d.empty.Add(1)
		d.metrics.RecordSTTRequest(ctx, d.cfg.ProviderName, "empty")
		log.Debug("no transcript for utterance", "audio_seconds", u.Duration.Seconds())
		return
	}
	d.metrics.RecordSTTRequest(ctx, d.cfg.ProviderName, "ok")

	elapsed := res.Elapsed
	if elapsed <= 0 {
		elapsed = took
	}
	t := Transcript{
		UtteranceID:   u.ID,
		Language:      res.Language,
		Text:          strings.TrimSpace(res.Text),
		Elapsed:       elapsed,
		AudioDuration: u.Duration,
		At:            d.now(),
	}
	span.SetAttributes(attribute.String("stt.language", t.Language))
	log.Debug("transcript ready", "language", t.Language, "elapsed", elapsed)

	for _, s := range d.sinks {
		s.Publish(ctx, t)
	}
	d.published.Add(1)
}

func (d *Dispatcher) onSuppress(reason string, r stt.Result) {
	d.suppressed.Add(1)
	d.metrics.RecordSuppressed(context.Background(), reason)
	slog.Debug("transcript suppressed", "reason", reason, "text", r.Text, "no_speech_prob", r.NoSpeechProb)
}
