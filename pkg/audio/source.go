// Package audio defines the frame types, capture abstraction, and sample
// conversion helpers used by the uttermon pipeline.
//
// The central abstraction is [Source]: a pull-based, ordered sequence of
// [Frame] values fed by a real-time driver callback. Driver-backed sources
// (see audio/portaudio) and test doubles (see audio/mock) share the [Bridge]
// type, which performs the callback-to-consumer hand-off without ever blocking
// the driver thread.
//
// This package lives under pkg/ because alternative capture backends are
// expected to implement [Source].
package audio

import (
	"context"
	"errors"
)

// ErrClosed is returned by [Source.Next] once the source has been stopped and
// every frame queued before the stop has been delivered.
var ErrClosed = errors.New("audio: source closed")

// ErrDeviceOpen wraps failures to open or start the capture device. It is
// fatal to the pipeline; callers decide whether to retry.
var ErrDeviceOpen = errors.New("audio: cannot open input device")

// Source is a restartable-only-by-reconstruction stream of mono frames.
//
// Start must be called exactly once before Next. Next is intended for a single
// consumer goroutine. Stop may be called from any goroutine; frames already
// queued when Stop is called remain available to Next, after which Next
// returns [ErrClosed].
type Source interface {
	// Start opens the device and begins delivering frames. Device failures are
	// reported synchronously and wrap [ErrDeviceOpen].
	Start(ctx context.Context) error

	// Next blocks until a frame is available, the source is drained after Stop
	// ([ErrClosed]), or ctx is done (ctx.Err()).
	Next(ctx context.Context) (Frame, error)

	// Stop closes the device and releases the hand-off queue. Calling Stop more
	// than once is safe and returns nil.
	Stop() error
}
