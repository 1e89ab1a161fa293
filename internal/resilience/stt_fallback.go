package resilience

import (
	"context"

	"github.com/MrWong99/uttermon/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// transcription backends. Each backend has its own circuit breaker.
//
// A backend that returns no result (nil, nil) counts as a success: silence is
// not a failure and must not trip the breaker or consult the next backend.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends req to the first backend that answers without error.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
}

// Healthy reports whether at least one backend's breaker is not open.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }

// States reports each backend's breaker state keyed by name.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Names returns the backend names in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }
