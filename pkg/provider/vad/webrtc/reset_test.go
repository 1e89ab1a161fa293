package webrtc

import (
	"errors"
	"testing"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/uttermon/pkg/provider/vad"
)

func TestSession_ResetFailureFailsLaterFrames(t *testing.T) {
	cfg := vad.Config{SampleRate: 16000, FrameSizeMs: 10, Aggressiveness: 2}
	sess, err := New().NewSession(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	boom := errors.New("out of memory")
	orig := newVAD
	newVAD = func() (*webrtcvad.VAD, error) { return nil, boom }
	sess.Reset()
	newVAD = orig

	frame := make([]byte, cfg.FrameBytes())
	if _, err := sess.ProcessFrame(frame); !errors.Is(err, boom) {
		t.Fatalf("ProcessFrame after failed Reset: err = %v, want %v", err, boom)
	}

	sess.Reset()
	if _, err := sess.ProcessFrame(frame); err != nil {
		t.Errorf("ProcessFrame after successful Reset: %v", err)
	}
}
