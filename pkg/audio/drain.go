package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when a producer must be allowed to finish but its output is no longer
// wanted, e.g. the utterance queue after the transcription stage has returned.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
