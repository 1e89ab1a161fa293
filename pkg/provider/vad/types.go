package vad

// Event is the classification of a single window.
type Event struct {
	// Speech reports whether the window was classified as speech.
	Speech bool

	// Probability is a backend-specific confidence in [0.0, 1.0]. Binary
	// classifiers report 0 or 1.
	Probability float64
}
