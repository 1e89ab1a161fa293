// Package energy implements a pure-Go [vad.Engine] that classifies a window as
// speech when its RMS level exceeds a threshold. It needs no native library and
// serves hosts where the WebRTC detector cannot be built.
//
// The classifier is stateless per window; debouncing is left to the caller.
package energy

import (
	"errors"
	"math"

	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/provider/vad"
)

// Thresholds is the normalised RMS level (0–1) above which a window counts as
// speech, indexed by aggressiveness.
var Thresholds = [vad.MaxAggression + 1]float64{0.005, 0.010, 0.015, 0.020}

// Engine creates energy-gate sessions.
type Engine struct {
	threshold float64
}

// Option configures an [Engine].
type Option func(*Engine)

// WithThreshold overrides the per-aggressiveness threshold with a fixed
// normalised RMS level.
func WithThreshold(level float64) Option {
	return func(e *Engine) { e.threshold = level }
}

// New returns an energy-gate engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession validates cfg and returns a session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := vad.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	th := e.threshold
	if th <= 0 {
		th = Thresholds[cfg.Aggressiveness]
	}
	return &session{cfg: cfg, threshold: th}, nil
}

type session struct {
	cfg       vad.Config
	threshold float64
	closed    bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errors.New("energy vad: session closed")
	}
	if err := vad.CheckFrame(s.cfg, frame); err != nil {
		return vad.Event{}, err
	}
	level := audio.RMS(audio.BytesToInt16(frame)) / 32768.0
	return vad.Event{
		Speech:      level >= s.threshold,
		Probability: math.Min(1, level/(2*s.threshold)),
	}, nil
}

func (s *session) Reset() {}

func (s *session) Close() error {
	s.closed = true
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)
