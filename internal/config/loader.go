package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/provider/stt"
	"github.com/MrWong99/uttermon/pkg/provider/vad"
	"github.com/MrWong99/uttermon/pkg/utterance"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio": {"portaudio"},
	"vad":   {"webrtc", "energy"},
	"stt":   {"whisper-native", "whisper", "openai"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":9090"
	DefaultSampleRate     = 16000
	DefaultBlockSize      = 119
	DefaultWindowMs       = 20
	DefaultAggressiveness = vad.MaxAggression
	DefaultMaxSilence     = 1.0
	DefaultWorkers        = 1
	DefaultSTTQueueSize   = 4
	DefaultSTTTimeout     = 30 * time.Second
	DefaultTask           = string(stt.TaskTranslate)
	DefaultSTTProvider    = "whisper-native"
	DefaultModelSize      = "small"
)

// Default returns a fully defaulted configuration: default microphone,
// WebRTC classifier, and a local whisper model translating to English.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.BlockSize == 0 {
		cfg.Audio.BlockSize = DefaultBlockSize
	}
	if cfg.Audio.QueueSize == 0 {
		cfg.Audio.QueueSize = audio.DefaultQueueSize
	}

	if cfg.VAD.WindowMs == 0 {
		cfg.VAD.WindowMs = DefaultWindowMs
	}
	if cfg.VAD.Aggressiveness == nil {
		a := DefaultAggressiveness
		cfg.VAD.Aggressiveness = &a
	}
	if cfg.VAD.MaxSilence == 0 {
		cfg.VAD.MaxSilence = DefaultMaxSilence
	}
	if cfg.VAD.Taper == nil {
		t := utterance.DefaultTaper
		cfg.VAD.Taper = &t
	}

	tc := &cfg.Transcription
	if tc.Workers == 0 {
		tc.Workers = DefaultWorkers
	}
	if tc.QueueSize == 0 {
		tc.QueueSize = DefaultSTTQueueSize
	}
	if tc.Timeout == 0 {
		tc.Timeout = DefaultSTTTimeout
	}
	if tc.Task == "" {
		tc.Task = DefaultTask
	}
	if tc.NoSpeechThreshold == nil {
		th := stt.DefaultNoSpeechThreshold
		tc.NoSpeechThreshold = &th
	}
	if tc.SuppressPhrases == nil {
		tc.SuppressPhrases = slices.Clone(stt.DefaultSuppressPhrases)
	}

	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "portaudio"
	}
	if cfg.Providers.VAD.Name == "" {
		cfg.Providers.VAD.Name = "webrtc"
	}
	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = DefaultSTTProvider
	}
	if cfg.Providers.STT.Name == DefaultSTTProvider && cfg.Providers.STT.Model == "" {
		cfg.Providers.STT.Model = DefaultModelSize
	}
}

// Load reads the YAML configuration file at path and returns a defaulted,
// validated [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to have been applied and returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Audio
	if !slices.Contains(vad.SampleRates, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: %v", cfg.Audio.SampleRate, vad.SampleRates))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must not be negative", cfg.Audio.BlockSize))
	}
	if cfg.Audio.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must be at least 1", cfg.Audio.QueueSize))
	}

	// VAD
	if !slices.Contains(vad.FrameSizesMs, cfg.VAD.WindowMs) {
		errs = append(errs, fmt.Errorf("vad.window_ms %d is invalid; valid values: %v", cfg.VAD.WindowMs, vad.FrameSizesMs))
	}
	if a := cfg.VAD.Aggressiveness; a != nil && (*a < 0 || *a > vad.MaxAggression) {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, %d]", *a, vad.MaxAggression))
	}
	if cfg.VAD.MaxSilence <= 0 {
		errs = append(errs, fmt.Errorf("vad.max_silence %.3f must be positive", cfg.VAD.MaxSilence))
	}
	if t := cfg.VAD.Taper; t != nil && (*t < 0 || *t > utterance.MaxTaper) {
		errs = append(errs, fmt.Errorf("vad.taper %.3f is out of range [0, %.1f]", *t, utterance.MaxTaper))
	}

	// Transcription
	tc := cfg.Transcription
	if tc.Workers < 1 {
		errs = append(errs, fmt.Errorf("transcription.workers %d must be at least 1", tc.Workers))
	}
	if tc.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("transcription.queue_size %d must not be negative", tc.QueueSize))
	}
	if tc.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcription.timeout %s must not be negative", tc.Timeout))
	}
	if _, err := stt.ParseTask(tc.Task); err != nil {
		errs = append(errs, fmt.Errorf("transcription.task: %w", err))
	}
	if th := tc.NoSpeechThreshold; th != nil && (*th < 0 || *th > 1) {
		errs = append(errs, fmt.Errorf("transcription.no_speech_threshold %.2f is out of range [0, 1]", *th))
	}
	if tc.PhraseSimilarity < 0 || tc.PhraseSimilarity > 1 {
		errs = append(errs, fmt.Errorf("transcription.phrase_similarity %.2f is out of range [0, 1]", tc.PhraseSimilarity))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
