package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/uttermon/pkg/audio"
)

func equalInt16(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestNormalizeToInt16Mono_Float(t *testing.T) {
	tests := []struct {
		name     string
		in       []float32
		channels int
		want     []int16
	}{
		{name: "mono passthrough", in: []float32{0, 0.5, -0.5, 1, -1}, channels: 1, want: []int16{0, 16383, -16383, 32767, -32767}},
		{name: "zero channels treated as mono", in: []float32{0.5}, channels: 0, want: []int16{16383}},
		{name: "clamps out of range", in: []float32{1.5, -2}, channels: 1, want: []int16{32767, -32767}},
		{name: "stereo averaged", in: []float32{1, 0, -0.5, -0.5}, channels: 2, want: []int16{16383, -16383}},
		{name: "trailing partial frame ignored", in: []float32{0.5, 0.5, 0.25}, channels: 2, want: []int16{16383}},
		{name: "empty", in: nil, channels: 2, want: []int16{}},
		{name: "nan becomes silence", in: []float32{float32(math.NaN())}, channels: 1, want: []int16{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			equalInt16(t, audio.NormalizeToInt16Mono(tt.in, tt.channels), tt.want)
		})
	}
}

func TestNormalizeToInt16Mono_Int16(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{name: "mono passthrough", in: []int16{1, -2, 3}, channels: 1, want: []int16{1, -2, 3}},
		{name: "stereo averaged", in: []int16{100, 200, -100, -200}, channels: 2, want: []int16{150, -150}},
		{name: "no overflow at max", in: []int16{32767, 32767, -32768, -32768}, channels: 2, want: []int16{32767, -32768}},
		{name: "four channels", in: []int16{4, 8, 12, 16}, channels: 4, want: []int16{10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			equalInt16(t, audio.NormalizeToInt16Mono(tt.in, tt.channels), tt.want)
		})
	}
}

func TestFloat32ToInt16(t *testing.T) {
	nan := float32(math.NaN())
	got := audio.Float32ToInt16([]float32{0, 0.5, -1, 1.5, -2, nan})
	equalInt16(t, got, []int16{0, 16383, -32767, 32767, -32767, 0})
}

func TestBytesToInt16(t *testing.T) {
	in := []int16{0, 1000, -1000, 32767, -32768}
	equalInt16(t, audio.BytesToInt16(audio.Int16ToBytes(in)), in)
	if got := audio.BytesToInt16([]byte{1, 0, 7}); len(got) != 1 || got[0] != 1 {
		t.Errorf("odd length: got %v, want [1]", got)
	}
}

func TestInt16ToBytes(t *testing.T) {
	b := audio.Int16ToBytes([]int16{1, -1, 0x1234})
	if len(b) != 6 {
		t.Fatalf("len = %d, want 6", len(b))
	}
	for i, want := range []uint16{1, 0xFFFF, 0x1234} {
		if got := binary.LittleEndian.Uint16(b[i*2:]); got != want {
			t.Errorf("sample %d: got %#x, want %#x", i, got, want)
		}
	}
}

func TestEncodeWAV(t *testing.T) {
	wav := audio.EncodeWAV([]int16{1, 2, 3}, 16000)
	if len(wav) != 44+6 {
		t.Fatalf("len = %d, want 50", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 6 {
		t.Errorf("data size = %d, want 6", got)
	}
	if got := int16(binary.LittleEndian.Uint16(wav[48:50])); got != 3 {
		t.Errorf("last sample = %d, want 3", got)
	}
}

func TestRMS(t *testing.T) {
	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := audio.RMS([]int16{100, -100, 100, -100}); got != 100 {
		t.Errorf("RMS = %v, want 100", got)
	}
}

func TestDrain(t *testing.T) {
	t.Parallel()
	ch := make(chan int)
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for i := range 5 {
			ch <- i
		}
		close(ch)
	}()
	audio.Drain(ch)
	<-sent
}
