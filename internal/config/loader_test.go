package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/uttermon/internal/config"
	"github.com/MrWong99/uttermon/pkg/audio"
	"github.com/MrWong99/uttermon/pkg/provider/stt"
)

const fullYAML = `
server:
  listen_addr: ":8081"
  log_level: debug
  allowed_origins: ["localhost:*"]
audio:
  sample_rate: 48000
  block_size: 480
  queue_size: 64
  device: "USB Mic"
vad:
  window_ms: 30
  aggressiveness: 0
  max_silence: 0.75
  taper: 0
transcription:
  workers: 2
  queue_size: 8
  timeout: 45s
  task: transcribe
  language: de
  no_speech_threshold: 0.6
  suppress_phrases: []
  phrase_similarity: 0.9
providers:
  audio: { name: portaudio }
  vad:   { name: energy }
  stt:
    name: whisper
    base_url: http://localhost:8080
  stt_fallbacks:
    - name: openai
      api_key: sk-test
      model: whisper-1
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8081" || cfg.Server.LogLevel != config.LogDebug ||
		!slices.Equal(cfg.Server.AllowedOrigins, []string{"localhost:*"}) {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Audio != (config.AudioConfig{SampleRate: 48000, BlockSize: 480, QueueSize: 64, Device: "USB Mic"}) {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.VAD.WindowMs != 30 || *cfg.VAD.Aggressiveness != 0 || *cfg.VAD.Taper != 0 {
		t.Errorf("vad = %+v", cfg.VAD)
	}
	if got := cfg.VAD.MaxSilenceDuration(); got != 750*time.Millisecond {
		t.Errorf("MaxSilenceDuration = %v, want 750ms", got)
	}

	tc := cfg.Transcription
	if tc.Workers != 2 || tc.QueueSize != 8 || tc.Timeout != 45*time.Second {
		t.Errorf("transcription = %+v", tc)
	}
	if tc.Task != "transcribe" || tc.Language != "de" || *tc.NoSpeechThreshold != 0.6 {
		t.Errorf("transcription = %+v", tc)
	}
	if tc.SuppressPhrases == nil || len(tc.SuppressPhrases) != 0 {
		t.Errorf("explicit empty suppress_phrases became %v", tc.SuppressPhrases)
	}

	if cfg.Providers.STT.Name != "whisper" || cfg.Providers.STT.BaseURL != "http://localhost:8080" {
		t.Errorf("stt = %+v", cfg.Providers.STT)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].Model != "whisper-1" {
		t.Errorf("stt_fallbacks = %+v", cfg.Providers.STTFallbacks)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := config.Default()

	if cfg.Server.ListenAddr != def.Server.ListenAddr || cfg.Server.LogLevel != def.Server.LogLevel || cfg.Server.AllowedOrigins != nil || cfg.Audio != def.Audio {
		t.Errorf("got %+v / %+v, want defaults", cfg.Server, cfg.Audio)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.BlockSize != 119 || cfg.Audio.QueueSize != audio.DefaultQueueSize {
		t.Errorf("audio defaults = %+v", cfg.Audio)
	}
	if cfg.VAD.WindowMs != 20 || *cfg.VAD.Aggressiveness != 3 || cfg.VAD.MaxSilence != 1.0 || *cfg.VAD.Taper != 0.1 {
		t.Errorf("vad defaults = %+v", cfg.VAD)
	}
	tc := cfg.Transcription
	if tc.Workers != 1 || tc.QueueSize != 4 || tc.Timeout != 30*time.Second || tc.Task != "translate" {
		t.Errorf("transcription defaults = %+v", tc)
	}
	if *tc.NoSpeechThreshold != stt.DefaultNoSpeechThreshold || tc.PhraseSimilarity != stt.DefaultPhraseSimilarity {
		t.Errorf("filter defaults = %+v", tc)
	}
	if !slices.Equal(tc.SuppressPhrases, stt.DefaultSuppressPhrases) {
		t.Errorf("SuppressPhrases = %v", tc.SuppressPhrases)
	}
	if cfg.Providers.STT.Name != "whisper-native" || cfg.Providers.STT.Model != "small" {
		t.Errorf("stt default = %+v", cfg.Providers.STT)
	}
	if cfg.Providers.Audio.Name != "portaudio" || cfg.Providers.VAD.Name != "webrtc" {
		t.Errorf("providers default = %+v", cfg.Providers)
	}
}

func TestDefault_DoesNotAliasPhraseList(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Transcription.SuppressPhrases[0] = "changed"
	if stt.DefaultSuppressPhrases[0] == "changed" {
		t.Fatal("Default shares the package phrase list")
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("vad:\n  windw_ms: 20\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server: { log_level: loud }", "server.log_level"},
		{"sample rate", "audio: { sample_rate: 44100 }", "audio.sample_rate"},
		{"queue size", "audio: { queue_size: -1 }", "audio.queue_size"},
		{"window", "vad: { window_ms: 25 }", "vad.window_ms"},
		{"aggressiveness", "vad: { aggressiveness: 4 }", "vad.aggressiveness"},
		{"negative aggressiveness", "vad: { aggressiveness: -1 }", "vad.aggressiveness"},
		{"max silence", "vad: { max_silence: -0.5 }", "vad.max_silence"},
		{"taper", "vad: { taper: 0.6 }", "vad.taper"},
		{"workers", "transcription: { workers: -2 }", "transcription.workers"},
		{"timeout", "transcription: { timeout: -1s }", "transcription.timeout"},
		{"task", "transcription: { task: summarize }", "transcription.task"},
		{"threshold", "transcription: { no_speech_threshold: 1.5 }", "no_speech_threshold"},
		{"similarity", "transcription: { phrase_similarity: 2 }", "phrase_similarity"},
		{"fallback name", "providers: { stt_fallbacks: [ { model: x } ] }", "stt_fallbacks[0].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
vad: { window_ms: 15, taper: 0.9 }
transcription: { task: nope }
`))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"vad.window_ms", "vad.taper", "transcription.task"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want wrapped os.ErrNotExist", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, fullYAML)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Audio.Device != "USB Mic" {
		t.Errorf("Device = %q", cfg.Audio.Device)
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    config.LogLevel
		valid bool
		level slog.Level
	}{
		{config.LogDebug, true, slog.LevelDebug},
		{config.LogInfo, true, slog.LevelInfo},
		{config.LogWarn, true, slog.LevelWarn},
		{config.LogError, true, slog.LevelError},
		{"", false, slog.LevelInfo},
		{"trace", false, slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.IsValid(); got != tt.valid {
			t.Errorf("%q.IsValid() = %v", tt.in, got)
		}
		if got := tt.in.Level(); got != tt.level {
			t.Errorf("%q.Level() = %v, want %v", tt.in, got, tt.level)
		}
	}
}

func TestProviderEntryOptions(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{
		"model_dir": "/models",
		"threads":   4,
		"float":     2.0,
		"fraction":  2.5,
	}}
	if got := e.OptionString("model_dir", "models"); got != "/models" {
		t.Errorf("OptionString = %q", got)
	}
	if got := e.OptionString("missing", "models"); got != "models" {
		t.Errorf("OptionString default = %q", got)
	}
	if got := e.OptionInt("threads", 1); got != 4 {
		t.Errorf("OptionInt = %d", got)
	}
	if got := e.OptionInt("float", 1); got != 2 {
		t.Errorf("OptionInt(float) = %d", got)
	}
	if got := e.OptionInt("fraction", 1); got != 1 {
		t.Errorf("OptionInt(fraction) = %d, want default", got)
	}
	if got := e.OptionFloat("fraction", 0); got != 2.5 {
		t.Errorf("OptionFloat = %v", got)
	}
	if got := e.OptionFloat("threads", 0); got != 4 {
		t.Errorf("OptionFloat(int) = %v", got)
	}
	if got := e.OptionFloat("model_dir", 0.01); got != 0.01 {
		t.Errorf("OptionFloat(string) = %v, want default", got)
	}
}
