package utterance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/uttermon/pkg/audio"
	audiomock "github.com/MrWong99/uttermon/pkg/audio/mock"
	vadmock "github.com/MrWong99/uttermon/pkg/provider/vad/mock"
	"github.com/MrWong99/uttermon/pkg/utterance"
)

func halfScale(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.5
	}
	return s
}

// runListener runs l until ctx is cancelled or the source ends, collecting
// every utterance.
func runListener(t *testing.T, ctx context.Context, l *utterance.Listener) ([]utterance.Utterance, error) {
	t.Helper()
	out := make(chan utterance.Utterance)
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx, out) }()

	var got []utterance.Utterance
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-out:
			if !ok {
				return got, <-errCh
			}
			got = append(got, u)
		case <-timeout:
			t.Fatal("listener did not finish")
		}
	}
}

func TestListener_EmitsAndStopsOnCancel(t *testing.T) {
	src := audiomock.NewSource(rate, 256)
	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for range 40 {
		src.Feed(halfScale(window), 0)
	}
	src.Feed(make([]float32, rate*11/10), 0)

	var frames int
	l := utterance.NewListener(src, newSegmenter(t), utterance.WithFrameHook(func(audio.Frame) { frames++ }))

	go func() {
		for src.Bridge().Len() > 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	got, err := runListener(t, ctx, l)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 || len(got[0].Samples) != 12800 {
		t.Fatalf("got %d utterances (%v), want one of 12800 samples", len(got), lens(got))
	}
	if frames != 41 {
		t.Errorf("frame hook saw %d frames, want 41", frames)
	}
	if src.StopCalls == 0 {
		t.Error("source not stopped on cancel")
	}
}

func TestListener_DrainsQueuedFramesAfterCancel(t *testing.T) {
	src := audiomock.NewSource(rate, 256)
	_ = src.Start(context.Background())
	for range 40 {
		src.Feed(halfScale(window), 0)
	}
	src.Feed(make([]float32, rate*11/10), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := runListener(t, ctx, utterance.NewListener(src, newSegmenter(t)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want the one completed by queued frames", len(got))
	}
}

func TestListener_InFlightFrameDeliveredOnStop(t *testing.T) {
	src := audiomock.NewSource(rate, 256)
	_ = src.Start(context.Background())
	for range 40 {
		src.Feed(halfScale(window), 0)
	}
	src.OnStop = func() { src.Feed(make([]float32, rate*11/10), 0) }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := runListener(t, ctx, utterance.NewListener(src, newSegmenter(t)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
}

func TestListener_UnfinishedAccumulationDiscarded(t *testing.T) {
	src := audiomock.NewSource(rate, 256)
	_ = src.Start(context.Background())
	for range 40 {
		src.Feed(halfScale(window), 0)
	}

	var discarded int
	seg := newSegmenter(t, utterance.WithDiscardHook(func(n int) { discarded += n }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := runListener(t, ctx, utterance.NewListener(src, seg))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("unterminated accumulation emitted: %v", lens(got))
	}
	if discarded != 12800 {
		t.Errorf("discarded %d samples, want 12800", discarded)
	}
}

func TestListener_StatusFramesStillContribute(t *testing.T) {
	src := audiomock.NewSource(rate, 256)
	_ = src.Start(context.Background())
	for i := range 40 {
		status := audio.Status(0)
		if i%10 == 0 {
			status = audio.InputOverflow
		}
		src.Feed(halfScale(window), status)
	}
	src.Feed(make([]float32, rate*11/10), 0)

	var statuses []audio.Status
	l := utterance.NewListener(src, newSegmenter(t), utterance.WithStatusHook(func(s audio.Status) {
		statuses = append(statuses, s)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := runListener(t, ctx, l)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(statuses) != 4 {
		t.Errorf("status hook called %d times, want 4", len(statuses))
	}
	if len(got) != 1 || len(got[0].Samples) != 12800 {
		t.Fatalf("overflow frames did not contribute: %v", lens(got))
	}
}

func TestListener_ClassifierErrorStopsRun(t *testing.T) {
	boom := errors.New("boom")
	seg, err := utterance.NewSegmenter(
		&vadmock.Engine{Session: &vadmock.Session{ProcessFrameErr: boom}},
		utterance.DefaultSegmenterConfig(),
	)
	if err != nil {
		t.Fatal(err)
	}
	src := audiomock.NewSource(rate, 4)
	_ = src.Start(context.Background())
	src.Feed(halfScale(window), 0)

	_, err = runListener(t, context.Background(), utterance.NewListener(src, seg))
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if src.StopCalls == 0 {
		t.Error("source not stopped after classifier error")
	}
}

func lens(us []utterance.Utterance) []int {
	out := make([]int, len(us))
	for i, u := range us {
		out[i] = len(u.Samples)
	}
	return out
}
