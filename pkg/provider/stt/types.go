package stt

import "time"

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Language is the detected (or requested) language code, e.g. "en".
	Language string

	// Text is the transcribed or translated speech.
	Text string

	// NoSpeechProb is the model's estimate (0.0–1.0) that the audio contains no
	// speech. Providers that cannot estimate it report 0.
	NoSpeechProb float64

	// Elapsed is the wall-clock time the model took.
	Elapsed time.Duration

	// Segments holds per-segment detail when the backend reports it.
	Segments []Segment
}

// Segment is a timed piece of a [Result].
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration
}
