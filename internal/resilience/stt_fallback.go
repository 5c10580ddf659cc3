package resilience

import (
	"context"

	"github.com/MrWong99/hermes/pkg/provider/stt"
	"github.com/MrWong99/hermes/pkg/types"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// recognizers. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Recognize transcribes pcm with the first healthy backend.
func (f *STTFallback) Recognize(ctx context.Context, pcm []byte, cfg stt.RecognizeConfig) (types.RecognitionResult, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (types.RecognitionResult, error) {
		return p.Recognize(ctx, pcm, cfg)
	})
}

// Reset resets every backend.
func (f *STTFallback) Reset() {
	f.group.Each(func(_ string, p stt.Provider) { p.Reset() })
}

// Capabilities combines the backends' capabilities: the group is concurrent
// only if every backend is, and stateful if any backend is.
func (f *STTFallback) Capabilities() stt.Capabilities {
	caps := stt.Capabilities{Concurrent: true}
	f.group.Each(func(_ string, p stt.Provider) {
		c := p.Capabilities()
		caps.Concurrent = caps.Concurrent && c.Concurrent
		caps.Stateful = caps.Stateful || c.Stateful
	})
	return caps
}
