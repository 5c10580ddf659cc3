// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and payloads, and they expose exported fields that control
// their behaviour.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Blocks: [][]int16{speech, speech, silence},
//	}
//	p, _ := pipeline.New(cfg, pipeline.Deps{Source: src, ...})
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/hermes/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// ─── Source ──────────────────────────────────────────────────────────────────

// Source replays a fixed list of blocks and then reports io.EOF.
type Source struct {
	mu sync.Mutex

	// Blocks are returned by Read in order.
	Blocks [][]int16

	// Errors, when non-nil at index i, is returned by the i-th Read instead
	// of Blocks[i]. The block at that index is skipped.
	Errors map[int]error

	// FormatResult is returned by Format. A zero value defaults to
	// 16 kHz mono with a block size of 2048 samples.
	FormatResult audio.Format

	// Hold, when true, makes Read block on ctx after the blocks are
	// exhausted instead of returning io.EOF. Use it to simulate a live
	// stream that never ends.
	Hold bool

	// ReadCalls counts Read invocations.
	ReadCalls int

	// CloseCalls counts Close invocations.
	CloseCalls int

	next   int
	closed chan struct{}
}

func (s *Source) closedCh() chan struct{} {
	if s.closed == nil {
		s.closed = make(chan struct{})
	}
	return s.closed
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FormatResult == (audio.Format{}) {
		return audio.Format{SampleRate: audio.PipelineRate, Channels: 1, BlockSize: 2048}
	}
	return s.FormatResult
}

// Read implements [audio.Source].
func (s *Source) Read(ctx context.Context) ([]int16, error) {
	s.mu.Lock()
	s.ReadCalls++
	closed := s.closedCh()
	select {
	case <-closed:
		s.mu.Unlock()
		return nil, audio.ErrClosed
	default:
	}
	if s.next < len(s.Blocks) {
		i := s.next
		s.next++
		if err, ok := s.Errors[i]; ok && err != nil {
			s.mu.Unlock()
			return nil, err
		}
		block := s.Blocks[i]
		s.mu.Unlock()
		return block, nil
	}
	hold := s.Hold
	s.mu.Unlock()

	if !hold {
		return nil, io.EOF
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-closed:
		return nil, audio.ErrClosed
	}
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	ch := s.closedCh()
	select {
	case <-ch:
	default:
		close(ch)
	}
	return nil
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink records every Write.
type Sink struct {
	mu sync.Mutex

	// WriteErr is returned by Write.
	WriteErr error

	// Writes holds the PCM of each call in order.
	Writes [][]byte

	// Rates holds the sample rate of each call in order.
	Rates []int
}

// Write implements [audio.Sink].
func (s *Sink) Write(_ context.Context, pcm []byte, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.Writes = append(s.Writes, cp)
	s.Rates = append(s.Rates, sampleRate)
	return s.WriteErr
}

// Bytes returns the total number of bytes written.
func (s *Sink) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.Writes {
		n += len(w)
	}
	return n
}

// Reset clears recorded writes.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes = nil
	s.Rates = nil
}
