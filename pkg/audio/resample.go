package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// ResampleMono converts mono float audio from srcRate to dstRate with a
// band-limited resampler, so downsampling does not alias. If the rates match
// or either is not positive, samples is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler %d->%d Hz: %w", srcRate, dstRate, err)
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	res, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d->%d Hz: %w", srcRate, dstRate, err)
	}

	out := make([]float32, len(res))
	for i, s := range res {
		out[i] = float32(s)
	}
	return out, nil
}
