// Package audio defines the audio source and sink abstractions of Hermes
// together with the PCM helpers shared by every transport.
//
// The two primary abstractions are:
//
//   - [Source] yields blocks of 16 kHz mono int16 samples to the capture
//     loop until end of stream.
//   - [Sink] accepts synthesized speech PCM for playback.
//
// Implementations live in transport packages (audio/pcmstream, audio/wsaudio,
// audio/discord). This package lives under pkg/ because external code is
// expected to implement [Source] and [Sink].
package audio

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by [Source.Read] and [Sink.Write] after Close. The
// capture loop treats it as fatal and stops immediately.
var ErrClosed = errors.New("audio: closed")

// Format describes the stream a [Source] produces.
type Format struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono.
	Channels int

	// BlockSize is the number of samples a single Read returns at most.
	BlockSize int
}

// String returns a human-readable format such as "16000Hz mono/2048".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s/%d", f.SampleRate, ch, f.BlockSize)
}

// Source is a live stream of PCM samples.
//
// Read blocks until the next block is available, the stream ends (io.EOF),
// ctx is cancelled, or an error occurs. A transient error may be followed by
// further successful reads; [ErrClosed] may not.
//
// Read is called from a single goroutine. Close may be called concurrently
// with Read and must unblock it.
type Source interface {
	// Format reports the stream format. A zero or non-positive BlockSize
	// means the source could not negotiate a buffer and capture must not
	// start.
	Format() Format

	// Read returns the next block of samples.
	Read(ctx context.Context) ([]int16, error)

	// Close releases the underlying transport.
	Close() error
}

// Sink plays synthesized speech. Write blocks until pcm was handed to the
// transport or ctx is cancelled. Implementations must be safe for concurrent
// use, but callers in this module write from a single goroutine.
type Sink interface {
	Write(ctx context.Context, pcm []byte, sampleRate int) error
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ctx context.Context, pcm []byte, sampleRate int) error

// Write implements [Sink].
func (f SinkFunc) Write(ctx context.Context, pcm []byte, sampleRate int) error {
	return f(ctx, pcm, sampleRate)
}

// Discard is a [Sink] that drops all audio. It is used when speech output is
// routed nowhere (e.g. a headless translation log).
var Discard Sink = SinkFunc(func(context.Context, []byte, int) error { return nil })
