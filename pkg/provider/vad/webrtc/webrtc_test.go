package webrtc_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/uttermon/pkg/provider/vad"
	"github.com/MrWong99/uttermon/pkg/provider/vad/webrtc"
)

func TestWebRTC_SilenceIsNotSpeech(t *testing.T) {
	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 20, Aggressiveness: 3}
	sess, err := webrtc.New().NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	frame := make([]byte, cfg.FrameSamples()*2)
	for range 10 {
		ev, err := sess.ProcessFrame(frame)
		if err != nil {
			t.Fatal(err)
		}
		if ev.Speech {
			t.Fatal("silence classified as speech")
		}
	}

	sess.Reset()
	if _, err := sess.ProcessFrame(frame); err != nil {
		t.Fatalf("after Reset: %v", err)
	}
}

func TestWebRTC_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{"rate", vad.Config{SampleRate: 22050, FrameSizeMs: 20, Aggressiveness: 3}},
		{"window", vad.Config{SampleRate: 16000, FrameSizeMs: 25, Aggressiveness: 3}},
		{"mode", vad.Config{SampleRate: 16000, FrameSizeMs: 20, Aggressiveness: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := webrtc.New().NewSession(tt.cfg)
			if !errors.Is(err, vad.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestWebRTC_WrongFrameSize(t *testing.T) {
	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 10, Aggressiveness: 0}
	sess, err := webrtc.New().NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	if _, err := sess.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("expected error for short frame")
	}
}

func TestWebRTC_ClosedSession(t *testing.T) {
	cfg := vad.Config{SampleRate: 8000, FrameSizeMs: 30, Aggressiveness: 1}
	sess, err := webrtc.New().NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := sess.ProcessFrame(make([]byte, cfg.FrameSamples()*2)); err == nil {
		t.Error("expected error after Close")
	}
}
