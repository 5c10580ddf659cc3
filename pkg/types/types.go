// Package types defines the shared types used across all Hermes packages.
//
// These types form the lingua franca between the segmenter, the recognition
// and translation gateways, the output fan-out and the speech queue. Each
// package defines its own domain types; cross-cutting data structures live
// here to avoid circular imports.
package types

import (
	"time"
)

// Audio format of everything that flows through the pipeline.
const (
	// SampleRate is the pipeline sample rate in Hz.
	SampleRate = 16000

	// BytesPerSample is the size of one signed 16-bit little-endian sample.
	BytesPerSample = 2
)

// AudioChunk is an utterance-sized span of 16 kHz mono PCM16 audio produced by
// the segmenter and consumed exactly once by the recognition gateway.
//
// Chunks are immutable once emitted. Seq is strictly increasing within one
// pipeline run and starts at 1.
type AudioChunk struct {
	// Seq is the chunk sequence number.
	Seq uint64

	// PCM holds little-endian int16 mono samples at [SampleRate].
	PCM []byte

	// Final is true when the chunk was produced by a flush at end of stream
	// or after a read error. Final chunks may be shorter than the minimum
	// viable size.
	Final bool
}

// Duration returns the playback length of the chunk.
func (c AudioChunk) Duration() time.Duration {
	samples := len(c.PCM) / BytesPerSample
	return time.Duration(samples) * time.Second / SampleRate
}

// RecognitionResult is the outcome of recognizing a single [AudioChunk].
// An empty Text is valid (silence, noise or a failed recognition) and ends
// the chunk's journey through the pipeline.
type RecognitionResult struct {
	Text    string
	IsFinal bool
	Seq     uint64
}

// TranslationEntry is a cached translation keyed by its normalized source.
type TranslationEntry struct {
	// Source is the trimmed, lower-cased source text.
	Source string

	// Translated is the backend's translation of Source.
	Translated string

	// Timestamp is when the entry was inserted.
	Timestamp time.Time
}

// TranslationResult is a delivered translation, as shown to the user and
// recorded in the history log.
type TranslationResult struct {
	Seq        uint64
	Original   string
	Translated string
	SourceLang string
	TargetLang string
	Timestamp  time.Time
	Confidence float64
}

// SpeechTask is a unit of work for the speech-output queue.
type SpeechTask struct {
	Text      string
	RequestID string
}

// OverlayState is the state of the on-screen overlay. It is owned by the
// overlay controller; other packages only ever see snapshots.
type OverlayState struct {
	Original    string
	Translated  string
	Visible     bool
	ExpiresAt   time.Time
	Opacity     int
	Sensitivity int
}
