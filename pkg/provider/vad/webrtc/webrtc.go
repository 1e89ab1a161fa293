// Package webrtc implements [vad.Engine] on top of the WebRTC voice activity
// detector through github.com/maxhawkins/go-webrtcvad (cgo).
//
// The WebRTC detector classifies 10, 20 or 30 ms windows of 16-bit mono PCM
// at 8, 16, 32 or 48 kHz. Its mode maps one-to-one onto
// [vad.Config.Aggressiveness].
package webrtc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/uttermon/pkg/provider/vad"
)

// Engine creates WebRTC VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns a WebRTC VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and allocates a native detector.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := vad.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	det, err := newDetector(cfg)
	if err != nil {
		return nil, err
	}
	if !det.ValidRateAndFrameLength(cfg.SampleRate, cfg.FrameSamples()) {
		return nil, fmt.Errorf("%w: webrtc rejects %d Hz / %d samples", vad.ErrInvalidConfig, cfg.SampleRate, cfg.FrameSamples())
	}
	return &session{cfg: cfg, det: det}, nil
}

// newVAD allocates a native detector. Tests replace it to simulate failures.
var newVAD = webrtcvad.New

func newDetector(cfg vad.Config) (*webrtcvad.VAD, error) {
	det, err := newVAD()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if err := det.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}
	return det, nil
}

type session struct {
	mu       sync.Mutex
	cfg      vad.Config
	det      *webrtcvad.VAD
	closed   bool
	resetErr error
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, errors.New("webrtc vad: session closed")
	}
	if s.resetErr != nil {
		return vad.Event{}, s.resetErr
	}
	if err := vad.CheckFrame(s.cfg, frame); err != nil {
		return vad.Event{}, err
	}
	speech, err := s.det.Process(s.cfg.SampleRate, frame)
	if err != nil {
		return vad.Event{}, fmt.Errorf("webrtc vad: process: %w", err)
	}
	ev := vad.Event{Speech: speech}
	if speech {
		ev.Probability = 1
	}
	return ev, nil
}

// Reset replaces the native detector; the binding exposes no reset call and a
// fresh instance is the only way to clear its internal smoothing state. If no
// new detector can be created the session fails every later frame rather than
// classifying with stale state.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	det, err := newDetector(s.cfg)
	if err != nil {
		slog.Warn("webrtc vad: reset failed, session unusable", "err", err)
		s.det = nil
		s.resetErr = fmt.Errorf("webrtc vad: reset: %w", err)
		return
	}
	s.det = det
	s.resetErr = nil
}

// Close drops the native detector; its memory is released by the binding's
// finalizer.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.det = nil
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)
