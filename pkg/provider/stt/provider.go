// Package stt defines the Provider interface for speech recognition backends.
//
// A recognizer wraps a speech-to-text engine (a whisper.cpp server, the
// in-process whisper.cpp bindings, or a test double) behind a single
// per-utterance call: the pipeline hands it one segmented chunk of 16 kHz
// mono PCM and receives the recognized text.
//
// Engines may keep context between calls (e.g. to continue a sentence across
// chunks). Such engines must report Concurrent == false in their
// [Capabilities] so callers serialize access, and must drop that context on
// Reset.
package stt

import (
	"context"

	"github.com/MrWong99/hermes/pkg/types"
)

// RecognizeConfig carries per-call recognition parameters.
type RecognizeConfig struct {
	// SampleRate of the PCM in Hz. Zero means [types.SampleRate].
	SampleRate int

	// Language is the BCP-47 language hint (e.g., "en", "ja"). Empty lets the
	// engine auto-detect or use its default.
	Language string
}

// Capabilities describes how a Provider may be driven.
type Capabilities struct {
	// Concurrent is true when Recognize may be called from several goroutines
	// at once.
	Concurrent bool

	// Stateful is true when results depend on earlier calls since the last
	// Reset.
	Stateful bool
}

// Provider is the abstraction over any speech recognition backend.
type Provider interface {
	// Recognize transcribes one utterance. pcm holds little-endian int16 mono
	// samples. The returned result's IsFinal is true for engines without
	// partial hypotheses. An empty Text with a nil error means no speech was
	// found.
	//
	// Returns an error if the engine is unreachable, not initialised, or ctx
	// is cancelled.
	Recognize(ctx context.Context, pcm []byte, cfg RecognizeConfig) (types.RecognitionResult, error)

	// Reset drops any context retained across calls. Stateless engines
	// implement it as a no-op.
	Reset()

	// Capabilities reports how the engine may be driven.
	Capabilities() Capabilities
}
