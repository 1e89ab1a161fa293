// Package vad defines the Engine interface for frame-level Voice Activity
// Detection backends.
//
// A VAD engine wraps a frame-level speech classifier (WebRTC VAD, an energy
// gate, or a test double) and surfaces it as a stateful, per-stream session.
// Sessions only ever see whole windows of 10, 20 or 30 ms; buffering partial
// windows is the caller's job (see the utterance package).
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// classification, which keeps it usable from a single cooperative consumer
// loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines.
package vad

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("vad: invalid config")

// Supported parameter values.
var (
	SampleRates  = []int{8000, 16000, 32000, 48000}
	FrameSizesMs = []int{10, 20, 30}
)

// MaxAggression is the highest supported aggressiveness mode.
const MaxAggression = 3

// Config holds the parameters for a VAD session. Values are validated once,
// when the session is created, and never change afterwards.
type Config struct {
	// SampleRate is the audio sample rate in Hz. One of 8000, 16000, 32000 or
	// 48000.
	SampleRate int

	// FrameSizeMs is the window length in milliseconds: 10, 20 or 30.
	// ProcessFrame rejects frames of any other size.
	FrameSizeMs int

	// Aggressiveness in [0, 3]. Higher values are more eager to classify a
	// window as non-speech.
	Aggressiveness int
}

// FrameSamples returns the number of 16-bit samples in one window.
func (c Config) FrameSamples() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// FrameBytes returns the byte length of one window of 16-bit PCM.
func (c Config) FrameBytes() int {
	return c.FrameSamples() * 2
}

// ValidateConfig checks cfg against the supported parameter values. The
// returned error joins every violation and wraps [ErrInvalidConfig].
func ValidateConfig(cfg Config) error {
	var errs []error
	if !slices.Contains(SampleRates, cfg.SampleRate) {
		errs = append(errs, fmt.Errorf("sample rate %d Hz not in %v", cfg.SampleRate, SampleRates))
	}
	if !slices.Contains(FrameSizesMs, cfg.FrameSizeMs) {
		errs = append(errs, fmt.Errorf("window size %d ms not in %v", cfg.FrameSizeMs, FrameSizesMs))
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > MaxAggression {
		errs = append(errs, fmt.Errorf("aggressiveness %d not in [0, %d]", cfg.Aggressiveness, MaxAggression))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// SessionHandle represents an active VAD session for a single audio stream.
// Reset clears the detection state without closing the session.
type SessionHandle interface {
	// ProcessFrame classifies exactly one window of little-endian 16-bit PCM at
	// the configured SampleRate and FrameSizeMs. A frame of any other length is
	// a caller defect and yields an error.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state. Feeding the same input after
	// Reset must produce the same classifications as a fresh session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
type Engine interface {
	// NewSession creates a new VAD session. It returns an error wrapping
	// [ErrInvalidConfig] when cfg is unsupported.
	NewSession(cfg Config) (SessionHandle, error)
}

// CheckFrame returns an error if frame is not exactly one window for cfg.
// Backends call it at the top of ProcessFrame.
func CheckFrame(cfg Config, frame []byte) error {
	if want := cfg.FrameBytes(); len(frame) != want {
		return fmt.Errorf("vad: frame is %d bytes, want %d", len(frame), want)
	}
	return nil
}
