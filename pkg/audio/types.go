package audio

import (
	"strings"
	"time"
)

// Frame is a single block of mono audio delivered by a capture driver.
// Frames are the atomic unit of audio transport between the driver callback and
// the utterance segmenter. A Frame owns its Samples; nothing else aliases them
// once the frame has been queued.
type Frame struct {
	// Samples holds mono audio normalised to [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (8000, 16000, 32000 or 48000 for the VAD).
	SampleRate int

	// Status carries driver conditions (overflow/underflow) reported alongside
	// this block. A non-zero status never invalidates the samples.
	Status Status

	// Seq is the position of this frame in the source's stream, starting at 0.
	Seq uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Status is a bitmask of driver conditions reported with a frame.
type Status uint8

const (
	// InputUnderflow means the driver had no input data available in time.
	InputUnderflow Status = 1 << iota

	// InputOverflow means input data was discarded by the driver because the
	// callback did not keep up.
	InputOverflow

	// OutputUnderflow is reported by duplex drivers; kept for completeness.
	OutputUnderflow

	// OutputOverflow is reported by duplex drivers; kept for completeness.
	OutputOverflow

	// PrimingOutput marks frames delivered while the driver primes its output.
	PrimingOutput
)

var statusNames = []struct {
	flag Status
	name string
}{
	{InputUnderflow, "input underflow"},
	{InputOverflow, "input overflow"},
	{OutputUnderflow, "output underflow"},
	{OutputOverflow, "output overflow"},
	{PrimingOutput, "priming output"},
}

// String returns a human-readable list of the set flags, or "ok" when none are set.
func (s Status) String() string {
	if s == 0 {
		return "ok"
	}
	var parts []string
	for _, sn := range statusNames {
		if s&sn.flag != 0 {
			parts = append(parts, sn.name)
		}
	}
	if rest := s &^ (InputUnderflow | InputOverflow | OutputUnderflow | OutputOverflow | PrimingOutput); rest != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}

// Has reports whether every flag in mask is set in s.
func (s Status) Has(mask Status) bool {
	return s&mask == mask
}
