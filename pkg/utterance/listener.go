package utterance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/uttermon/pkg/audio"
)

// ListenerOption configures a [Listener].
type ListenerOption func(*Listener)

// WithFrameHook registers fn to be called for every frame pulled from the
// source, before segmentation.
func WithFrameHook(fn func(audio.Frame)) ListenerOption {
	return func(l *Listener) { l.onFrame = fn }
}

// WithStatusHook registers fn to be called for every frame that carries a
// non-zero driver status.
func WithStatusHook(fn func(audio.Status)) ListenerOption {
	return func(l *Listener) { l.onStatus = fn }
}

// Listener is the single consumer loop between an [audio.Source] and a
// [Segmenter].
type Listener struct {
	src audio.Source
	seg *Segmenter

	onFrame  func(audio.Frame)
	onStatus func(audio.Status)
}

// NewListener returns a Listener that reads src and feeds seg. The source must
// already be started.
func NewListener(src audio.Source, seg *Segmenter, opts ...ListenerOption) *Listener {
	l := &Listener{src: src, seg: seg}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run pulls frames until the source is exhausted and sends every completed
// utterance on out, one at a time and in boundary order. out is closed when
// Run returns.
//
// Cancelling ctx stops the source. Frames that were already queued are still
// segmented, so an utterance whose boundary lies in them is still emitted; an
// accumulation left unfinished afterwards is discarded. Run returns nil after
// a graceful stop and an error if the classifier fails.
func (l *Listener) Run(ctx context.Context, out chan<- Utterance) error {
	defer close(out)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := l.src.Stop(); err != nil {
				slog.Warn("listener: stop source", "err", err)
			}
		case <-done:
		}
	}()

	// Draining after cancellation must not be cut short by ctx itself.
	pull := context.WithoutCancel(ctx)
	for {
		frame, err := l.src.Next(pull)
		if errors.Is(err, audio.ErrClosed) {
			l.seg.Discard()
			return nil
		}
		if err != nil {
			return fmt.Errorf("listener: next frame: %w", err)
		}

		if l.onFrame != nil {
			l.onFrame(frame)
		}
		if frame.Status != 0 {
			slog.Warn("listener: driver reported status", "status", frame.Status.String(), "seq", frame.Seq)
			if l.onStatus != nil {
				l.onStatus(frame.Status)
			}
		}

		u, err := l.seg.Consume(frame)
		if err != nil {
			l.seg.Discard()
			if serr := l.src.Stop(); serr != nil {
				slog.Warn("listener: stop source", "err", serr)
			}
			return fmt.Errorf("listener: segment frame %d: %w", frame.Seq, err)
		}
		if u != nil {
			out <- *u
		}
	}
}
