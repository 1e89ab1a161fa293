// Package mock provides an in-memory implementation of [audio.Source] for use
// in unit tests.
//
// Source is backed by a real [audio.Bridge], so ordering, status propagation
// and drain-after-stop behave exactly as they do for a device-backed source.
// Tests play the role of the driver callback by calling [Source.Feed].
//
// Typical usage:
//
//	src := mock.NewSource(16000, 64)
//	_ = src.Start(ctx)
//	src.Feed(samples, audio.InputOverflow)
//	frame, err := src.Next(ctx)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/uttermon/pkg/audio"
)

// Source is a mock implementation of [audio.Source]. Set the exported error
// fields before use; inspect the call counters afterwards. Safe for concurrent
// use.
type Source struct {
	mu sync.Mutex

	bridge *audio.Bridge

	// StartErr, if non-nil, is returned by Start and the source stays unstarted.
	StartErr error

	// StopErr, if non-nil, is returned by every Stop call.
	StopErr error

	// StartCalls is the number of times Start was called.
	StartCalls int

	// StopCalls is the number of times Stop was called.
	StopCalls int

	// OnStop, if set, is invoked on the first Stop call before the bridge is
	// closed. Tests use it to feed a last frame "in flight" during shutdown.
	OnStop func()

	started bool
	stopped bool
}

// NewSource returns a Source producing frames at sampleRate with room for
// capacity queued frames (see [audio.NewBridge]).
func NewSource(sampleRate, capacity int) *Source {
	return &Source{bridge: audio.NewBridge(sampleRate, capacity)}
}

// Start implements [audio.Source]. It returns StartErr when set.
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.started = true
	return nil
}

// Next implements [audio.Source].
func (s *Source) Next(ctx context.Context) (audio.Frame, error) {
	return s.bridge.Next(ctx)
}

// Stop implements [audio.Source]. The first call runs OnStop and closes the
// underlying bridge; later calls only increment StopCalls.
func (s *Source) Stop() error {
	s.mu.Lock()
	s.StopCalls++
	first := !s.stopped
	s.stopped = true
	hook := s.OnStop
	err := s.StopErr
	s.mu.Unlock()

	if first {
		if hook != nil {
			hook()
		}
		s.bridge.Close()
	}
	return err
}

// Feed simulates one driver callback delivering samples with the given status.
// It reports whether the frame was queued.
func (s *Source) Feed(samples []float32, status audio.Status) bool {
	return s.bridge.Push(samples, status)
}

// Started reports whether Start succeeded at least once.
func (s *Source) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Bridge exposes the underlying hand-off queue, e.g. for drop counters.
func (s *Source) Bridge() *audio.Bridge { return s.bridge }

var _ audio.Source = (*Source)(nil)
