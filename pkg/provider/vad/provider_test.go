package vad_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/uttermon/pkg/provider/vad"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     vad.Config
		wantErr bool
	}{
		{"16k 20ms aggr 3", vad.Config{SampleRate: 16000, FrameSizeMs: 20, Aggressiveness: 3}, false},
		{"8k 10ms aggr 0", vad.Config{SampleRate: 8000, FrameSizeMs: 10}, false},
		{"48k 30ms", vad.Config{SampleRate: 48000, FrameSizeMs: 30, Aggressiveness: 1}, false},
		{"44.1k rejected", vad.Config{SampleRate: 44100, FrameSizeMs: 20}, true},
		{"25ms rejected", vad.Config{SampleRate: 16000, FrameSizeMs: 25}, true},
		{"aggr 4 rejected", vad.Config{SampleRate: 16000, FrameSizeMs: 20, Aggressiveness: 4}, true},
		{"negative aggr rejected", vad.Config{SampleRate: 16000, FrameSizeMs: 20, Aggressiveness: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vad.ValidateConfig(tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, vad.ErrInvalidConfig) {
					t.Fatalf("got %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigFrameSize(t *testing.T) {
	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 20}
	if got := cfg.FrameSamples(); got != 320 {
		t.Errorf("FrameSamples = %d, want 320", got)
	}
	if got := cfg.FrameBytes(); got != 640 {
		t.Errorf("FrameBytes = %d, want 640", got)
	}
	if err := vad.CheckFrame(cfg, make([]byte, 639)); err == nil {
		t.Error("CheckFrame accepted a short window")
	}
	if err := vad.CheckFrame(cfg, make([]byte, 640)); err != nil {
		t.Errorf("CheckFrame: %v", err)
	}
}
