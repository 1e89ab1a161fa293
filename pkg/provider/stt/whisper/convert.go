package whisper

import "strings"

// noSpeechFromTokens estimates the probability that a decode contains no
// speech as one minus the mean token probability. Without tokens the estimate
// is 1.
func noSpeechFromTokens(probs []float32) float64 {
	if len(probs) == 0 {
		return 1
	}
	var sum float64
	for _, p := range probs {
		sum += float64(min(max(p, 0), 1))
	}
	return 1 - sum/float64(len(probs))
}

// isSpecialToken reports whether a token is a control token such as
// "[_BEG_]" or "<|endoftext|>" rather than text.
func isSpecialToken(text string) bool {
	return strings.HasPrefix(text, "[_") || strings.HasPrefix(text, "<|")
}
