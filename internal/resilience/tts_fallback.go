package resilience

import (
	"context"

	"github.com/MrWong99/hermes/pkg/audio"
	"github.com/MrWong99/hermes/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// synthesizers. Each backend has its own circuit breaker.
//
// The group reports the primary's sample rate. Audio from a fallback with a
// different rate is resampled to it.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SampleRate implements [tts.Provider] with the primary's rate.
func (f *TTSFallback) SampleRate() int { return f.group.Primary().SampleRate() }

// SynthesizeStream starts synthesis on the first healthy backend. Only the
// stream setup is covered by failover; a stream that fails part-way simply
// ends early.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	want := f.SampleRate()
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		ch, err := p.SynthesizeStream(ctx, text, voice)
		if err != nil {
			return nil, err
		}
		if have := p.SampleRate(); have != want {
			return resampleStream(ctx, ch, have, want), nil
		}
		return ch, nil
	})
}

// ListVoices returns available voices from the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// resampleStream converts every PCM chunk of in from rate src to dst. A
// trailing odd byte is carried over to the next chunk.
func resampleStream(ctx context.Context, in <-chan []byte, src, dst int) <-chan []byte {
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		defer audio.Drain(in)
		var carry []byte
		for pcm := range in {
			if len(carry) > 0 {
				pcm = append(carry, pcm...)
				carry = nil
			}
			if len(pcm)%2 != 0 {
				carry = []byte{pcm[len(pcm)-1]}
				pcm = pcm[:len(pcm)-1]
			}
			if len(pcm) == 0 {
				continue
			}
			samples := audio.Resample(audio.BytesToInt16s(pcm), src, dst)
			select {
			case out <- audio.Int16sToBytes(samples):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
