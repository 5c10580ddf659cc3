package audio

import (
	"context"
	"io"
	"sync"
)

// DefaultStreamBuffer is the number of pushed frames a [Stream] holds before
// it starts dropping.
const DefaultStreamBuffer = 64

// Compile-time interface assertion.
var _ Source = (*Stream)(nil)

// Stream is a [Source] fed by a transport. The transport pushes pipeline
// samples of any length from its own goroutine; Read hands them out in
// blocks of exactly BlockSize samples, except for the last block before end
// of stream.
//
// Push never blocks. When the reader falls behind, new audio is dropped
// rather than stalling the transport.
type Stream struct {
	blockSize int
	frames    chan []int16
	closed    chan struct{}

	mu       sync.Mutex
	ended    bool
	isClosed bool
	dropped  uint64
	onClose  func() error

	// Owned by the reader.
	pending []int16
}

// NewStream returns a Stream delivering blocks of blockSize samples that
// buffers up to buffer pushes. Non-positive values select the defaults.
func NewStream(blockSize, buffer int) *Stream {
	if blockSize <= 0 {
		blockSize = 2048
	}
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &Stream{
		blockSize: blockSize,
		frames:    make(chan []int16, buffer),
		closed:    make(chan struct{}),
	}
}

// OnClose registers fn to run once when the stream is closed. Transports use
// it to tear down the connection that feeds the stream.
func (s *Stream) OnClose(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// Push queues samples for the reader. It reports false when the samples were
// dropped because the buffer is full or the stream ended.
func (s *Stream) Push(samples []int16) bool {
	if len(samples) == 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.isClosed {
		return false
	}
	select {
	case s.frames <- samples:
		return true
	default:
		s.dropped++
		return false
	}
}

// PushFrame converts a transport frame to pipeline samples and pushes it.
func (s *Stream) PushFrame(f AudioFrame) bool {
	return s.Push(ToPipeline(f))
}

// End marks the end of the stream. Read returns the audio still buffered
// and then io.EOF.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	close(s.frames)
}

// Dropped returns the number of pushes dropped because the buffer was full.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Format implements [Source].
func (s *Stream) Format() Format {
	return Format{SampleRate: PipelineRate, Channels: 1, BlockSize: s.blockSize}
}

// Read implements [Source].
func (s *Stream) Read(ctx context.Context) ([]int16, error) {
	for len(s.pending) < s.blockSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, ErrClosed
		case f, ok := <-s.frames:
			if !ok {
				if len(s.pending) == 0 {
					return nil, io.EOF
				}
				out := s.pending
				s.pending = nil
				return out, nil
			}
			s.pending = append(s.pending, f...)
		}
	}
	out := make([]int16, s.blockSize)
	copy(out, s.pending)
	s.pending = append(s.pending[:0], s.pending[s.blockSize:]...)
	return out, nil
}

// Close implements [Source]. It unblocks a pending Read and runs the
// OnClose hook once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	close(s.closed)
	fn := s.onClose
	s.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}
