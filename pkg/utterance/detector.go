package utterance

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/provider/vad"
)

// DetectorConfig configures a [Detector].
type DetectorConfig struct {
	// SampleRate of the incoming audio in Hz: 8000, 16000, 32000 or 48000.
	SampleRate int

	// WindowMs is the classifier window: 10, 20 or 30 ms.
	WindowMs int

	// Aggressiveness of the frame-level classifier, 0–3.
	Aggressiveness int

	// MaxSilence is how long non-speech may last before the speaking state
	// ends. Must be positive.
	MaxSilence time.Duration
}

// DefaultDetectorConfig returns 16 kHz, 20 ms windows, aggressiveness 3 and
// one second of tolerated silence.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SampleRate:     16000,
		WindowMs:       20,
		Aggressiveness: 3,
		MaxSilence:     time.Second,
	}
}

// Validate reports every invalid field. The error wraps [vad.ErrInvalidConfig].
func (c DetectorConfig) Validate() error {
	errs := []error{vad.ValidateConfig(c.vadConfig())}
	if c.MaxSilence <= 0 {
		errs = append(errs, fmt.Errorf("%w: max silence must be positive, got %v", vad.ErrInvalidConfig, c.MaxSilence))
	}
	return errors.Join(errs...)
}

// WindowSamples returns the number of samples in one classifier window.
func (c DetectorConfig) WindowSamples() int {
	return c.SampleRate * c.WindowMs / 1000
}

func (c DetectorConfig) vadConfig() vad.Config {
	return vad.Config{
		SampleRate:     c.SampleRate,
		FrameSizeMs:    c.WindowMs,
		Aggressiveness: c.Aggressiveness,
	}
}

// DetectorState is the debounced speech state.
type DetectorState struct {
	// Speaking is true while speech is ongoing, including pauses shorter than
	// MaxSilence.
	Speaking bool

	// SilenceElapsed is the run length of consecutive non-speech windows. It is
	// exactly zero after any speech window.
	SilenceElapsed time.Duration
}

// Detector turns a frame-level classifier into a debounced speaking state.
//
// Arbitrary-length input is cut into whole windows; a remainder shorter than
// one window is carried over to the next call. A Detector is owned by a single
// goroutine.
type Detector struct {
	cfg     DetectorConfig
	session vad.SessionHandle

	window    int
	windowDur time.Duration
	carry     []int16
	scratch   []byte
	state     DetectorState

	onChange func(speaking bool)
}

// NewDetector validates cfg and opens a classifier session on engine.
// Configuration errors wrap [vad.ErrInvalidConfig].
func NewDetector(engine vad.Engine, cfg DetectorConfig) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sess, err := engine.NewSession(cfg.vadConfig())
	if err != nil {
		return nil, fmt.Errorf("utterance: open vad session: %w", err)
	}
	window := cfg.WindowSamples()
	return &Detector{
		cfg:       cfg,
		session:   sess,
		window:    window,
		windowDur: time.Duration(cfg.WindowMs) * time.Millisecond,
		carry:     make([]int16, 0, window),
		scratch:   make([]byte, window*2),
	}, nil
}

// Process classifies every whole window formed by the carried-over samples
// followed by samples. A classifier error is a defect in the backend and is
// returned as-is; the windows before it have already been folded into the
// state.
func (d *Detector) Process(samples []int16) error {
	buf := samples
	if len(d.carry) > 0 {
		buf = make([]int16, 0, len(d.carry)+len(samples))
		buf = append(buf, d.carry...)
		buf = append(buf, samples...)
	}

	off := 0
	var err error
	for len(buf)-off >= d.window {
		win := buf[off : off+d.window]
		off += d.window
		for i, s := range win {
			binary.LittleEndian.PutUint16(d.scratch[i*2:], uint16(s))
		}
		ev, perr := d.session.ProcessFrame(d.scratch)
		if perr != nil {
			err = fmt.Errorf("utterance: classify window: %w", perr)
			break
		}
		d.fold(ev.Speech)
	}

	d.carry = append(d.carry[:0], buf[off:]...)
	if len(d.carry) >= d.window {
		// Only reachable after a classifier error; never keep a full window.
		d.carry = d.carry[:0]
	}
	return err
}

// ProcessFloat32 normalises float samples to 16-bit PCM and calls Process.
func (d *Detector) ProcessFloat32(samples []float32) error {
	return d.Process(audio.NormalizeToInt16Mono(samples, 1))
}

func (d *Detector) fold(speech bool) {
	if speech {
		d.state.SilenceElapsed = 0
	} else {
		d.state.SilenceElapsed += d.windowDur
	}

	speaking := speech || (d.state.Speaking && d.state.SilenceElapsed <= d.cfg.MaxSilence)
	if speaking == d.state.Speaking {
		return
	}
	d.state.Speaking = speaking
	slog.Debug("utterance: speaking state changed",
		"speaking", speaking,
		"silence_elapsed", d.state.SilenceElapsed,
	)
	if d.onChange != nil {
		d.onChange(speaking)
	}
}

// Speaking reports the debounced speaking state.
func (d *Detector) Speaking() bool { return d.state.Speaking }

// State returns a snapshot of the debounced state.
func (d *Detector) State() DetectorState { return d.state }

// CarryOver returns the number of samples waiting for the next window. It is
// always smaller than one window.
func (d *Detector) CarryOver() int { return len(d.carry) }

// Config returns the configuration the detector was built with.
func (d *Detector) Config() DetectorConfig { return d.cfg }

// Reset clears the speaking state, the silence counter and the carry-over, and
// resets the classifier session.
func (d *Detector) Reset() {
	d.state = DetectorState{}
	d.carry = d.carry[:0]
	d.session.Reset()
}

// Close releases the classifier session.
func (d *Detector) Close() error {
	return d.session.Close()
}
