package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SuppressionChanged is true when the no-speech threshold, the
	// suppressed phrases or the phrase similarity changed.
	SuppressionChanged bool

	// RestartRequired lists sections whose changes are ignored until restart.
	RestartRequired []string
}

// Changed reports whether d carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SuppressionChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ot, nt := old.Transcription, new.Transcription
	if !floatPtrEqual(ot.NoSpeechThreshold, nt.NoSpeechThreshold) ||
		!slices.Equal(ot.SuppressPhrases, nt.SuppressPhrases) ||
		ot.PhraseSimilarity != nt.PhraseSimilarity {
		d.SuppressionChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server.allowed_origins")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !vadEqual(old.VAD, new.VAD) {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	if ot.Workers != nt.Workers || ot.QueueSize != nt.QueueSize || ot.Timeout != nt.Timeout ||
		ot.Task != nt.Task || ot.Language != nt.Language {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	return d
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func vadEqual(a, b VADConfig) bool {
	return a.WindowMs == b.WindowMs &&
		a.MaxSilence == b.MaxSilence &&
		intPtrEqual(a.Aggressiveness, b.Aggressiveness) &&
		floatPtrEqual(a.Taper, b.Taper)
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Audio, b.Audio) &&
		entryEqual(a.VAD, b.VAD) &&
		entryEqual(a.STT, b.STT) &&
		slices.EqualFunc(a.STTFallbacks, b.STTFallbacks, entryEqual)
}

// entryEqual compares the identifying fields of two entries. Options are
// compared by their formatted form.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}
