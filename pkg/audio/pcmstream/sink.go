package pcmstream

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/MrWong99/hermes/pkg/audio"
)

// DefaultSinkRate is the sample rate a [Sink] writes at unless configured
// otherwise.
const DefaultSinkRate = 24000

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)

// Sink appends speech to an io.Writer as raw mono PCM16. Every write is
// resampled to the sink rate, so utterances from different voices can be
// concatenated.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	rate   int
	bytes  int64
}

// NewSink returns a Sink writing to w at rate Hz. A non-positive rate
// selects [DefaultSinkRate]. If w is an io.Closer it is closed by Close.
func NewSink(w io.Writer, rate int) *Sink {
	if rate <= 0 {
		rate = DefaultSinkRate
	}
	s := &Sink{w: w, rate: rate}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Create creates (or truncates) path and returns a Sink writing to it. The
// path "-" writes to standard output, which is not closed by Close.
func Create(path string, rate int) (*Sink, error) {
	if path == "-" {
		return NewSink(nopWriteCloser{os.Stdout}, rate), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("pcmstream: create: %w", err)
	}
	return NewSink(f, rate), nil
}

// Rate returns the output sample rate.
func (s *Sink) Rate() int { return s.rate }

// Written returns the number of bytes written so far.
func (s *Sink) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Write implements [audio.Sink].
func (s *Sink) Write(ctx context.Context, pcm []byte, sampleRate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := audio.Int16sToBytes(audio.Resample(audio.BytesToInt16s(pcm), sampleRate, s.rate))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return audio.ErrClosed
	}
	n, err := s.w.Write(out)
	s.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("pcmstream: write: %w", err)
	}
	return nil
}

// Close closes the underlying writer. Writes after Close fail with
// [audio.ErrClosed].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	s.w = nil
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
