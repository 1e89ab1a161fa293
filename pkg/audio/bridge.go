package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the default number of frames a [Bridge] can hold. At
// 16 kHz with 119-sample blocks this is roughly 7.6 seconds of audio.
const DefaultQueueSize = 1024

// Bridge hands frames from a driver callback to a single consumer.
//
// Push is the producer side and is safe to call from a real-time driver
// thread: it copies the samples, performs a non-blocking channel send and
// never waits for the consumer. Next is the consumer side. Close stops
// accepting new frames while keeping queued frames deliverable.
type Bridge struct {
	sampleRate int
	frames     chan Frame

	// mu only serialises Push against Close so that a late callback can never
	// send on a closed channel. Push takes the read side, which is uncontended
	// in steady state.
	mu     sync.RWMutex
	closed bool

	seq     atomic.Uint64
	samples atomic.Uint64
	dropped atomic.Uint64
}

// NewBridge returns a Bridge for frames captured at sampleRate. A capacity of
// zero or less selects [DefaultQueueSize].
func NewBridge(sampleRate, capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Bridge{
		sampleRate: sampleRate,
		frames:     make(chan Frame, capacity),
	}
}

// Push copies samples into a new [Frame] and queues it. It returns false if the
// bridge is closed or the queue is full; in the latter case the frame is
// counted in [Bridge.Dropped]. Push never blocks.
func (b *Bridge) Push(samples []float32, status Status) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}

	data := make([]float32, len(samples))
	copy(data, samples)

	// Dropped frames still consume a sequence number and their duration, so
	// consumers can see the gap.
	offset := b.samples.Add(uint64(len(data))) - uint64(len(data))
	f := Frame{
		Samples:    data,
		SampleRate: b.sampleRate,
		Status:     status,
		Seq:        b.seq.Add(1) - 1,
		Timestamp:  b.offsetDuration(offset),
	}

	select {
	case b.frames <- f:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Next returns the next queued frame. After [Bridge.Close] it keeps returning
// queued frames in order and then [ErrClosed].
func (b *Bridge) Next(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-b.frames:
		if !ok {
			return Frame{}, ErrClosed
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close rejects further pushes. Frames already queued stay available to Next.
// Calling Close more than once is safe.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.frames)
}

// Len returns the number of frames waiting to be consumed.
func (b *Bridge) Len() int { return len(b.frames) }

// Dropped returns the number of frames rejected because the queue was full.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

func (b *Bridge) offsetDuration(samples uint64) time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(b.sampleRate)
}
