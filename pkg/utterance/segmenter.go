// Package utterance turns a stream of audio frames into discrete, edge-tapered
// speech segments.
//
// The pipeline is built from three pieces:
//
//   - [Detector] debounces a frame-level [vad.SessionHandle] into a speaking
//     state that tolerates pauses up to a configurable silence timeout.
//   - [Segmenter] accumulates samples while the detector reports speech and
//     emits an [Utterance] at the silence boundary, provided the accumulated
//     audio is long enough.
//   - [Listener] is the consumer loop that pulls frames from an [audio.Source]
//     and feeds the segmenter.
//
// All three are owned by a single goroutine; only the source's hand-off queue
// is shared with the capture driver.
package utterance

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/provider/vad"
)

// Utterance is one continuous speech episode, tapered at both edges. The
// receiver owns Samples; the segmenter keeps no reference to them.
type Utterance struct {
	// ID uniquely identifies the utterance across sinks and logs.
	ID uuid.UUID

	// Samples holds mono audio in [-1.0, 1.0] at SampleRate.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Duration is the playback length of Samples.
	Duration time.Duration

	// CapturedAt is the wall-clock time the silence boundary was detected.
	CapturedAt time.Time

	// Offset is the stream position of the first sample.
	Offset time.Duration

	// StartSeq and EndSeq are the sequence numbers of the first and last frames
	// that contributed samples.
	StartSeq uint64
	EndSeq   uint64
}

// Phase is the externally visible state of a [Segmenter].
type Phase int

const (
	// PhaseIdle means the accumulator is empty and nobody is speaking.
	PhaseIdle Phase = iota

	// PhaseAccumulating means speech is in progress and samples are being
	// collected.
	PhaseAccumulating
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAccumulating:
		return "accumulating"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// SegmenterConfig configures a [Segmenter].
type SegmenterConfig struct {
	Detector DetectorConfig

	// Taper is the edge fade fraction in [0, 0.5]. Zero disables tapering.
	Taper float64
}

// DefaultSegmenterConfig returns [DefaultDetectorConfig] with a 10% taper.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{Detector: DefaultDetectorConfig(), Taper: DefaultTaper}
}

// SegmenterOption configures optional [Segmenter] behaviour.
type SegmenterOption func(*Segmenter)

// WithDiscardHook registers fn to be called with the sample count whenever an
// accumulation too short to be an utterance is dropped.
func WithDiscardHook(fn func(samples int)) SegmenterOption {
	return func(s *Segmenter) { s.onDiscard = fn }
}

// WithStateHook registers fn to be called on every speaking state change.
func WithStateHook(fn func(speaking bool)) SegmenterOption {
	return func(s *Segmenter) { s.onState = fn }
}

// WithClock overrides the wall clock used for [Utterance.CapturedAt].
func WithClock(now func() time.Time) SegmenterOption {
	return func(s *Segmenter) { s.now = now }
}

// Segmenter accumulates speech frames and emits utterances at silence
// boundaries.
type Segmenter struct {
	det        *Detector
	taper      float64
	minSamples int

	acc      []float32
	startSeq uint64
	endSeq   uint64
	offset   time.Duration

	onDiscard func(samples int)
	onState   func(speaking bool)
	now       func() time.Time
}

// NewSegmenter validates cfg and builds a segmenter with its own detector on
// engine.
func NewSegmenter(engine vad.Engine, cfg SegmenterConfig, opts ...SegmenterOption) (*Segmenter, error) {
	if cfg.Taper < 0 || cfg.Taper > MaxTaper {
		return nil, fmt.Errorf("%w: taper %v not in [0, %v]", vad.ErrInvalidConfig, cfg.Taper, MaxTaper)
	}
	det, err := NewDetector(engine, cfg.Detector)
	if err != nil {
		return nil, err
	}
	s := &Segmenter{
		det:        det,
		taper:      cfg.Taper,
		minSamples: MinSamples(cfg.Detector),
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	det.onChange = s.onState
	return s, nil
}

// MinSamples returns the length an accumulation must exceed to be emitted:
// sampleRate × 0.5 × maxSilence.
func MinSamples(cfg DetectorConfig) int {
	return int(float64(cfg.SampleRate) * 0.5 * cfg.MaxSilence.Seconds())
}

// Consume feeds one frame to the detector and updates the accumulator. It
// returns a completed utterance at a silence boundary and nil otherwise. A
// non-nil error means the classifier failed; the frame is not accumulated.
func (s *Segmenter) Consume(frame audio.Frame) (*Utterance, error) {
	rate := s.det.cfg.SampleRate
	if frame.SampleRate != 0 && frame.SampleRate != rate {
		return nil, fmt.Errorf("utterance: frame rate %d Hz does not match detector rate %d Hz", frame.SampleRate, rate)
	}
	if err := s.det.ProcessFloat32(frame.Samples); err != nil {
		return nil, err
	}

	if s.det.Speaking() {
		if len(s.acc) == 0 {
			s.startSeq = frame.Seq
			s.offset = frame.Timestamp
		}
		s.acc = append(s.acc, frame.Samples...)
		s.endSeq = frame.Seq
		return nil, nil
	}

	if len(s.acc) > s.minSamples {
		return s.flush(), nil
	}
	s.Discard()
	return nil, nil
}

func (s *Segmenter) flush() *Utterance {
	samples := s.acc
	s.acc = nil
	Taper(samples, s.taper)

	rate := s.det.cfg.SampleRate
	u := &Utterance{
		ID:         uuid.New(),
		Samples:    samples,
		SampleRate: rate,
		Duration:   time.Duration(len(samples)) * time.Second / time.Duration(rate),
		CapturedAt: s.now(),
		Offset:     s.offset,
		StartSeq:   s.startSeq,
		EndSeq:     s.endSeq,
	}
	slog.Debug("utterance: emitted",
		"id", u.ID,
		"samples", len(samples),
		"duration", u.Duration,
		"start_seq", u.StartSeq,
		"end_seq", u.EndSeq,
	)
	return u
}

// Discard drops an unfinished accumulation without emitting it.
func (s *Segmenter) Discard() {
	if n := len(s.acc); n > 0 {
		slog.Debug("utterance: discarded short accumulation", "samples", n, "min_samples", s.minSamples)
		if s.onDiscard != nil {
			s.onDiscard(n)
		}
	}
	s.acc = s.acc[:0]
}

// Reset discards any accumulation and resets the detector.
func (s *Segmenter) Reset() {
	s.Discard()
	s.det.Reset()
}

// Phase reports whether an utterance is being accumulated.
func (s *Segmenter) Phase() Phase {
	if len(s.acc) > 0 || s.det.Speaking() {
		return PhaseAccumulating
	}
	return PhaseIdle
}

// Buffered returns the number of samples currently accumulated.
func (s *Segmenter) Buffered() int { return len(s.acc) }

// MinSamples returns the emission threshold for this segmenter.
func (s *Segmenter) MinSamples() int { return s.minSamples }

// Detector exposes the underlying detector for state inspection.
func (s *Segmenter) Detector() *Detector { return s.det }

// Close releases the detector's classifier session.
func (s *Segmenter) Close() error { return s.det.Close() }
