// Package pcmstream reads and writes audio as plain byte streams: raw 16 kHz
// mono PCM16 or WAV files, standard input and output.
//
// A [Source] detects a RIFF/WAVE header and converts any 16-bit PCM layout
// to the pipeline format block by block. Without a header the bytes are
// taken as raw 16 kHz mono little-endian PCM16. A [Sink] appends synthesized
// speech to a file as raw PCM16 at a fixed rate.
package pcmstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/hermes/pkg/audio"
)

// DefaultBlockSize is the number of pipeline samples returned per Read.
const DefaultBlockSize = 2048

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// SourceOption configures a [Source].
type SourceOption func(*Source)

// WithBlockSize sets the number of pipeline samples per Read. Default: 2048.
func WithBlockSize(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithRealtime paces Read to the playback speed of the audio, so a file
// behaves like a live capture.
func WithRealtime() SourceOption {
	return func(s *Source) {
		s.realtime = true
	}
}

// Source streams audio from an io.Reader.
type Source struct {
	r         *bufio.Reader
	closer    io.Closer
	blockSize int
	realtime  bool

	rate     int
	channels int

	next time.Time // earliest time of the next Read in realtime mode

	mu     sync.Mutex
	closed bool
}

// NewSource returns a Source reading r. If r starts with a WAV header the
// header is consumed and its format honoured. If r is an io.Closer it is
// closed by Close.
func NewSource(r io.Reader, opts ...SourceOption) (*Source, error) {
	s := &Source{
		r:         bufio.NewReaderSize(r, 64<<10),
		blockSize: DefaultBlockSize,
		rate:      audio.PipelineRate,
		channels:  1,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.readHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open opens path as a Source. The path "-" reads standard input, which is
// not closed by Close.
func Open(path string, opts ...SourceOption) (*Source, error) {
	if path == "-" {
		return NewSource(io.NopCloser(os.Stdin), opts...)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pcmstream: open: %w", err)
	}
	s, err := NewSource(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Source) readHeader() error {
	head, err := s.r.Peek(4)
	if err != nil || string(head) != "RIFF" {
		// Raw PCM, possibly empty.
		return nil
	}
	// Peek returns what is available even when the header is longer.
	head, _ = s.r.Peek(s.r.Size())
	info, err := audio.ParseWAV(head)
	if err != nil {
		return fmt.Errorf("pcmstream: %w", err)
	}
	if info.BitsPerSample != 16 {
		return fmt.Errorf("pcmstream: unsupported bit depth %d", info.BitsPerSample)
	}
	if info.SampleRate <= 0 || info.Channels <= 0 {
		return fmt.Errorf("pcmstream: invalid wav format %d Hz, %d channels", info.SampleRate, info.Channels)
	}
	if _, err := s.r.Discard(info.DataOffset); err != nil {
		return fmt.Errorf("pcmstream: skip wav header: %w", err)
	}
	s.rate, s.channels = info.SampleRate, info.Channels
	return nil
}

// InputFormat returns the sample rate and channel count of the underlying
// bytes.
func (s *Source) InputFormat() (sampleRate, channels int) {
	return s.rate, s.channels
}

// Format implements [audio.Source]. Blocks are always delivered at the
// pipeline rate in mono.
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: audio.PipelineRate, Channels: 1, BlockSize: s.blockSize}
}

// Read implements [audio.Source]. The last block may be shorter than the
// block size; after it Read returns io.EOF.
func (s *Source) Read(ctx context.Context) ([]int16, error) {
	if s.isClosed() {
		return nil, audio.ErrClosed
	}
	if err := s.pace(ctx); err != nil {
		return nil, err
	}

	// Input samples per channel needed for one pipeline block.
	frames := (s.blockSize*s.rate + audio.PipelineRate - 1) / audio.PipelineRate
	buf := make([]byte, frames*s.channels*2)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Partial final block.
	case err != nil:
		if s.isClosed() {
			return nil, audio.ErrClosed
		}
		return nil, fmt.Errorf("pcmstream: read: %w", err)
	}

	samples := audio.ToPipeline(audio.AudioFrame{
		Data:       buf[:n-n%(2*s.channels)],
		SampleRate: s.rate,
		Channels:   s.channels,
	})
	if len(samples) > s.blockSize {
		samples = samples[:s.blockSize]
	}
	if len(samples) == 0 {
		return nil, io.EOF
	}
	return samples, nil
}

func (s *Source) pace(ctx context.Context) error {
	if !s.realtime {
		return nil
	}
	now := time.Now()
	if s.next.IsZero() {
		s.next = now
	}
	if wait := s.next.Sub(now); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	s.next = s.next.Add(time.Duration(s.blockSize) * time.Second / audio.PipelineRate)
	return nil
}

func (s *Source) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
