// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify the
// text and voice passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
//	ch, _ := p.SynthesizeStream(ctx, "хорошая игра", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hermes/pkg/provider/tts"
)

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	Text  string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is the sequence of PCM slices emitted by every
	// SynthesizeStream call.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream instead of
	// starting a stream.
	SynthesizeErr error

	// Hold, if non-nil, delays closing every stream until Hold is closed or
	// the call's context is cancelled. Chunks are emitted first.
	Hold chan struct{}

	// Rate is returned by SampleRate. Zero means 16000.
	Rate int

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// ListVoicesCalls counts calls to ListVoices.
	ListVoicesCalls int
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits SynthesizeChunks then closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	hold := p.Hold
	p.mu.Unlock()

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, pcm := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- pcm:
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Texts returns the text of every SynthesizeStream call in order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeStreamCalls))
	for i, c := range p.SynthesizeStreamCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = 0
}
