// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script classifications and inspect the windows that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{Script: []bool{true, true, false}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/uttermon/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// Validate, when true, runs vad.ValidateConfig before returning a session.
	Validate bool

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Validate {
		if err := vad.ValidateConfig(cfg); err != nil {
			return nil, err
		}
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// Session is a mock implementation of vad.SessionHandle.
//
// Classification order of precedence: Classify, then Script, then Default.
type Session struct {
	mu sync.Mutex

	// Classify, if set, decides each window from its raw bytes.
	Classify func(frame []byte) bool

	// Script is consumed one entry per window. Once exhausted, Default applies.
	// Reset rewinds the script to the start.
	Script []bool

	// Default is the classification used when neither Classify nor Script
	// applies.
	Default bool

	// ProcessFrameErr, if non-nil, is returned by every ProcessFrame call.
	ProcessFrameErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Frames is the number of windows classified.
	Frames int

	// FrameSizes records the byte length of every window in order.
	FrameSizes []int

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	pos int
}

// ProcessFrame records the call and returns the scripted classification.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames++
	s.FrameSizes = append(s.FrameSizes, len(frame))
	if s.ProcessFrameErr != nil {
		return vad.Event{}, s.ProcessFrameErr
	}

	speech := s.Default
	switch {
	case s.Classify != nil:
		speech = s.Classify(frame)
	case s.pos < len(s.Script):
		speech = s.Script[s.pos]
		s.pos++
	}
	ev := vad.Event{Speech: speech}
	if speech {
		ev.Probability = 1
	}
	return ev, nil
}

// Reset rewinds the script and increments ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
	s.pos = 0
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)

// Loud reports whether any sample in a little-endian 16-bit window has a
// magnitude of at least 1000. It is a convenient Classify function for tests
// that synthesise speech as loud tones and silence as zeros.
func Loud(frame []byte) bool {
	for i := 0; i+1 < len(frame); i += 2 {
		v := int16(uint16(frame[i]) | uint16(frame[i+1])<<8)
		if v >= 1000 || v <= -1000 {
			return true
		}
	}
	return false
}
