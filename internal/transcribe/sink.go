// Package transcribe hands finished utterances to a speech-to-text provider
// and publishes the resulting transcripts.
//
// The [Dispatcher] is the collaborator between the segmentation stage and the
// STT backend: it reads utterances from a channel, runs them through a
// bounded pool of workers and fans every non-empty result out to its [Sink]s.
// Provider failures are logged and counted but never stop the pipeline.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transcript is the published result for one utterance.
type Transcript struct {
	// UtteranceID links the transcript to the utterance it was produced from.
	UtteranceID uuid.UUID

	// Language is the detected or requested language code.
	Language string

	// Text is the transcribed or translated speech, trimmed.
	Text string

	// Elapsed is how long the provider took.
	Elapsed time.Duration

	// AudioDuration is the length of the transcribed audio.
	AudioDuration time.Duration

	// At is the wall-clock time the transcript became available.
	At time.Time
}

// Sink receives published transcripts. Publish is called from dispatcher
// workers and must not block for long; implementations must be safe for
// concurrent use.
type Sink interface {
	Publish(ctx context.Context, t Transcript)
}

// SinkFunc adapts a plain function to [Sink].
type SinkFunc func(ctx context.Context, t Transcript)

// Publish implements [Sink].
func (f SinkFunc) Publish(ctx context.Context, t Transcript) { f(ctx, t) }

// ConsoleSink writes one line per transcript in the form
//
//	en: hello there - (took 0.42s)
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink returns a ConsoleSink writing to w.
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Publish implements [Sink].
func (s *ConsoleSink) Publish(_ context.Context, t Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s: %s - (took %.2fs)\n", t.Language, t.Text, t.Elapsed.Seconds())
}

var (
	_ Sink = (*ConsoleSink)(nil)
	_ Sink = SinkFunc(nil)
)
