// Package config provides the configuration schema, loader, file watcher and
// provider registry for uttermon.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the slog level. Unknown and empty values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Providers     ProvidersConfig     `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz, /readyz and
	// /transcripts (e.g., ":9090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns (e.g., "localhost:*") whose pages
	// may open /transcripts cross-origin. Same-origin clients are always
	// accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AudioConfig configures microphone capture.
type AudioConfig struct {
	// SampleRate is the capture rate in Hz. Must be one the voice activity
	// classifier accepts (8000, 16000, 32000, 48000).
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the number of frames per driver callback.
	BlockSize int `yaml:"block_size"`

	// QueueSize bounds the frames buffered between the driver callback and
	// the listener. Frames beyond it are dropped and counted.
	QueueSize int `yaml:"queue_size"`

	// Device selects an input device by name. Empty uses the default input.
	Device string `yaml:"device"`
}

// VADConfig configures voice activity detection and segmentation.
type VADConfig struct {
	// WindowMs is the classification window in milliseconds (10, 20 or 30).
	WindowMs int `yaml:"window_ms"`

	// Aggressiveness is the classifier mode, 0 (least) to 3 (most). Nil
	// selects the default of 3.
	Aggressiveness *int `yaml:"aggressiveness"`

	// MaxSilence is the silence hold in seconds before an utterance ends.
	MaxSilence float64 `yaml:"max_silence"`

	// Taper is the fraction of each utterance end faded in and out, in
	// [0, 0.5]. Nil selects the default of 0.1.
	Taper *float64 `yaml:"taper"`
}

// MaxSilenceDuration returns MaxSilence as a [time.Duration].
func (v VADConfig) MaxSilenceDuration() time.Duration {
	return time.Duration(v.MaxSilence * float64(time.Second))
}

// TranscriptionConfig configures how utterances are transcribed.
type TranscriptionConfig struct {
	// Workers is the number of concurrent transcriptions.
	Workers int `yaml:"workers"`

	// QueueSize bounds utterances waiting for a worker.
	QueueSize int `yaml:"queue_size"`

	// Timeout caps a single transcription, queue wait excluded.
	Timeout time.Duration `yaml:"timeout"`

	// Task is "translate" (to English) or "transcribe".
	Task string `yaml:"task"`

	// Language is a hint such as "de". Empty lets the model detect it.
	Language string `yaml:"language"`

	// NoSpeechThreshold suppresses results whose no-speech probability is at
	// or above it. Nil selects 0.5. Hot-reloadable.
	NoSpeechThreshold *float64 `yaml:"no_speech_threshold"`

	// SuppressPhrases lists known hallucinations to drop. Nil selects the
	// built-in list; an explicit empty list disables phrase suppression.
	// Hot-reloadable.
	SuppressPhrases []string `yaml:"suppress_phrases"`

	// PhraseSimilarity is the Jaro-Winkler score at or above which the start
	// of a result matches a suppressed phrase. Zero keeps exact prefix
	// matching only. Hot-reloadable.
	PhraseSimilarity float64 `yaml:"phrase_similarity"`
}

// ProvidersConfig declares which implementation to use for each pipeline
// stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	Audio ProviderEntry `yaml:"audio"`
	VAD   ProviderEntry `yaml:"vad"`
	STT   ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary STT provider fails
	// or its circuit breaker is open.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "portaudio",
	// "webrtc", "whisper-native").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "small",
	// "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or def when absent.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionInt returns Options[key] as an int, or def when absent or not a
// whole number.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return def
}

// OptionFloat returns Options[key] as a float64, or def when absent or not a
// number.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
