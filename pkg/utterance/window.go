package utterance

// DefaultTaper is the fraction of an utterance faded in and out at each edge.
const DefaultTaper = 0.1

// MaxTaper is the largest supported taper fraction; beyond it the two ramps
// would overlap.
const MaxTaper = 0.5

// Taper applies a trapezoidal gain envelope to samples in place.
//
// With n = floor(len(samples) * fraction), sample i of the first n is scaled by
// i/n and the last n samples mirror that ramp; everything in between is left
// untouched. Every gain on a ramp is strictly below 1. When n is zero the call
// is a no-op. fraction is clamped to [0, MaxTaper].
func Taper(samples []float32, fraction float64) {
	fraction = min(max(fraction, 0), MaxTaper)
	l := len(samples)
	n := int(float64(l) * fraction)
	if n == 0 {
		return
	}
	for i := range n {
		g := float32(i) / float32(n)
		samples[i] *= g
		samples[l-1-i] *= g
	}
}
