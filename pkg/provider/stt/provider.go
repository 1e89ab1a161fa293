// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription model (a local whisper.cpp model,
// a whisper-server instance, or the OpenAI audio API) and transcribes one
// complete utterance per call. A nil result with a nil error means the model
// judged the audio to contain no usable speech; callers simply skip it.
//
// Filters that suppress model artefacts (low-confidence segments, hallucinated
// boilerplate captions) are pluggable predicates applied with [Suppress]; they
// are not part of any backend.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"fmt"
	"strings"
)

// Task selects between transcription in the spoken language and translation
// into English.
type Task string

const (
	// TaskTranscribe keeps the spoken language.
	TaskTranscribe Task = "transcribe"

	// TaskTranslate translates the speech into English.
	TaskTranslate Task = "translate"
)

// ParseTask parses a task name. The empty string selects [TaskTranslate].
func ParseTask(s string) (Task, error) {
	switch Task(strings.ToLower(strings.TrimSpace(s))) {
	case "", TaskTranslate:
		return TaskTranslate, nil
	case TaskTranscribe:
		return TaskTranscribe, nil
	default:
		return "", fmt.Errorf("stt: unknown task %q (want %q or %q)", s, TaskTranscribe, TaskTranslate)
	}
}

// Request is one utterance to transcribe.
type Request struct {
	// Samples is mono audio in [-1.0, 1.0]. The provider takes ownership.
	Samples []float32

	// SampleRate of Samples in Hz. Providers resample as needed.
	SampleRate int

	// Language is an ISO-639-1 hint ("en", "de"). Empty enables auto-detection.
	Language string

	// Task selects transcription or translation. Empty means translate.
	Task Task
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe runs the model over req. It returns (nil, nil) when the model
	// produced no result for the audio.
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
