package speech

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/hermes/pkg/audio"
	"github.com/MrWong99/hermes/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ Synthesizer = (*StreamSynthesizer)(nil)

// StreamSynthesizer speaks by streaming a TTS provider's PCM into an audio
// sink. Speak returns after the last chunk was written.
type StreamSynthesizer struct {
	provider tts.Provider
	sink     audio.Sink

	mu     sync.Mutex
	voice  tts.VoiceProfile
	cancel context.CancelFunc
}

// NewStreamSynthesizer returns a synthesizer speaking with voice.
func NewStreamSynthesizer(p tts.Provider, sink audio.Sink, voice tts.VoiceProfile) *StreamSynthesizer {
	return &StreamSynthesizer{provider: p, sink: sink, voice: voice}
}

// SetVoice changes the voice used by subsequent utterances.
func (s *StreamSynthesizer) SetVoice(v tts.VoiceProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = v
}

// Voice returns the current voice.
func (s *StreamSynthesizer) Voice() tts.VoiceProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// Speak synthesizes text and writes the audio to the sink. It returns the
// context error when stopped part-way.
func (s *StreamSynthesizer) Speak(ctx context.Context, text string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	voice := s.voice
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	ch, err := s.provider.SynthesizeStream(ctx, text, voice)
	if err != nil {
		return fmt.Errorf("speech: synthesize: %w", err)
	}
	rate := s.provider.SampleRate()
	for pcm := range ch {
		if err := s.sink.Write(ctx, pcm, rate); err != nil {
			stopped := ctx.Err()
			cancel()
			go audio.Drain(ch)
			if stopped != nil {
				return stopped
			}
			return fmt.Errorf("speech: write audio: %w", err)
		}
	}
	return ctx.Err()
}

// Stop aborts the utterance in progress.
func (s *StreamSynthesizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
