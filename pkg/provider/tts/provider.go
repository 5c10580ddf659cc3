// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui server) and presents a uniform streaming interface. SynthesizeStream
// takes one complete utterance and returns a channel of raw PCM as it becomes
// available, so playback can start before the whole sentence is synthesised.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream synthesises text with the given voice and returns a
	// channel that emits 16-bit signed little-endian mono PCM at
	// [Provider.SampleRate].
	//
	// The returned channel is closed by the implementation when synthesis is
	// complete, when it fails, or when ctx is cancelled. The caller must
	// drain it. A non-nil error is returned only if the stream cannot be
	// started.
	SynthesizeStream(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// SampleRate is the rate of the PCM emitted by SynthesizeStream.
	SampleRate() int
}
