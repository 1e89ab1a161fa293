package audio

import "encoding/binary"

// Sample is the set of PCM sample types accepted by [NormalizeToInt16Mono].
type Sample interface {
	int16 | float32
}

// NormalizeToInt16Mono converts interleaved PCM to 16-bit mono. It is total:
// every input shape has a defined result and nothing panics.
//
//   - channels <= 1 means data is already mono.
//   - Multi-channel input is down-mixed by averaging each frame; a trailing
//     partial frame is ignored.
//   - float32 samples are clamped to [-1, 1] and scaled by 32767, truncating
//     toward zero.
//   - int16 samples are averaged in int32 so the mix never overflows.
func NormalizeToInt16Mono[S Sample](data []S, channels int) []int16 {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / channels
	out := make([]int16, frames)

	switch d := any(data).(type) {
	case []float32:
		for i := range frames {
			var sum float32
			for c := range channels {
				sum += d[i*channels+c]
			}
			out[i] = floatToInt16(sum / float32(channels))
		}
	case []int16:
		for i := range frames {
			var sum int32
			for c := range channels {
				sum += int32(d[i*channels+c])
			}
			out[i] = int16(sum / int32(channels))
		}
	}
	return out
}

// Float32ToInt16 converts normalised float samples to 16-bit PCM, clamping
// values outside [-1, 1].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatToInt16(s)
	}
	return out
}


// Int16ToBytes serialises samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 decodes little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func floatToInt16(s float32) int16 {
	switch {
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	case s != s: // NaN
		s = 0
	}
	return int16(s * 32767)
}
