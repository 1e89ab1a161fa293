// Package portaudio provides an [audio.Source] that captures mono audio from
// the default input device through PortAudio, using
// github.com/gordonklaus/portaudio in callback mode.
//
// The PortAudio callback runs on a real-time driver thread. It only translates
// the driver status flags and pushes a copy of the block onto an
// [audio.Bridge]; all classification work happens on the consumer side.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/uttermon/pkg/audio"
)

const (
	defaultSampleRate = 16000
	defaultBlockSize  = 119
)

// Config controls the capture stream.
type Config struct {
	// SampleRate of the capture stream in Hz. Defaults to 16000.
	SampleRate int

	// BlockSize is the number of samples per driver callback. Defaults to 119.
	BlockSize int

	// QueueSize bounds the callback hand-off queue. Defaults to
	// [audio.DefaultQueueSize].
	QueueSize int

	// Device selects an input device by name. Empty selects the host default.
	Device string
}

// Source captures audio from a PortAudio input device.
type Source struct {
	cfg    Config
	bridge *audio.Bridge

	mu      sync.Mutex
	stream  *pa.Stream
	started bool
	stopped bool
}

// New returns an unstarted Source. Zero-valued Config fields take defaults.
func New(cfg Config) *Source {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = defaultBlockSize
	}
	return &Source{
		cfg:    cfg,
		bridge: audio.NewBridge(cfg.SampleRate, cfg.QueueSize),
	}
}

// Start initialises PortAudio, opens the input device and starts the stream.
// Every failure wraps [audio.ErrDeviceOpen].
func (s *Source) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("portaudio: source already started")
	}
	if s.stopped {
		return fmt.Errorf("%w: source was stopped", audio.ErrDeviceOpen)
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("%w: initialise: %w", audio.ErrDeviceOpen, err)
	}

	stream, err := s.open()
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("%w: %w", audio.ErrDeviceOpen, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return fmt.Errorf("%w: start stream: %w", audio.ErrDeviceOpen, err)
	}

	s.stream = stream
	s.started = true
	slog.Info("portaudio: capture started",
		"sample_rate", s.cfg.SampleRate,
		"block_size", s.cfg.BlockSize,
		"device", deviceLabel(s.cfg.Device),
	)
	return nil
}

func (s *Source) open() (*pa.Stream, error) {
	if s.cfg.Device == "" {
		stream, err := pa.OpenDefaultStream(1, 0, float64(s.cfg.SampleRate), s.cfg.BlockSize, s.callback)
		if err != nil {
			return nil, fmt.Errorf("open default stream: %w", err)
		}
		return stream, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name != s.cfg.Device || dev.MaxInputChannels < 1 {
			continue
		}
		params := pa.LowLatencyParameters(dev, nil)
		params.Input.Channels = 1
		params.SampleRate = float64(s.cfg.SampleRate)
		params.FramesPerBuffer = s.cfg.BlockSize
		stream, err := pa.OpenStream(params, s.callback)
		if err != nil {
			return nil, fmt.Errorf("open stream on %q: %w", dev.Name, err)
		}
		return stream, nil
	}
	return nil, fmt.Errorf("input device %q not found", s.cfg.Device)
}

// callback runs on the PortAudio thread. It must not block.
func (s *Source) callback(in []float32, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
	s.bridge.Push(in, translateFlags(flags))
}

// Next implements [audio.Source].
func (s *Source) Next(ctx context.Context) (audio.Frame, error) {
	return s.bridge.Next(ctx)
}

// Stop stops and closes the stream, terminates PortAudio and closes the
// hand-off queue. Stopping the stream waits for a running callback to return,
// so every delivered block is either queued or counted as dropped before the
// queue closes. Safe to call more than once.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
		s.stream = nil
	}
	if s.started {
		if err := pa.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
		}
	}
	s.bridge.Close()

	if dropped := s.bridge.Dropped(); dropped > 0 {
		slog.Warn("portaudio: frames dropped during capture", "dropped", dropped)
	}
	return errors.Join(errs...)
}

// Dropped returns the number of blocks dropped because the consumer fell
// behind.
func (s *Source) Dropped() uint64 { return s.bridge.Dropped() }

// Bridge exposes the hand-off queue for health checks.
func (s *Source) Bridge() *audio.Bridge { return s.bridge }

func translateFlags(f pa.StreamCallbackFlags) audio.Status {
	var st audio.Status
	if f&pa.InputUnderflow != 0 {
		st |= audio.InputUnderflow
	}
	if f&pa.InputOverflow != 0 {
		st |= audio.InputOverflow
	}
	if f&pa.OutputUnderflow != 0 {
		st |= audio.OutputUnderflow
	}
	if f&pa.OutputOverflow != 0 {
		st |= audio.OutputOverflow
	}
	if f&pa.PrimingOutput != 0 {
		st |= audio.PrimingOutput
	}
	return st
}

func deviceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}

var _ audio.Source = (*Source)(nil)
