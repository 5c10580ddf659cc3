// Package mock provides a test double for the stt.Provider interface.
//
// Set Result / Err for a fixed answer, or RecognizeFunc to compute a result
// per call (e.g. to decode a marker from the PCM or to delay completion).
//
// Example:
//
//	p := &mock.Provider{Result: types.RecognitionResult{Text: "gg", IsFinal: true}}
//	res, _ := p.Recognize(ctx, chunk.PCM, stt.RecognizeConfig{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hermes/pkg/provider/stt"
	"github.com/MrWong99/hermes/pkg/types"
)

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// RecognizeCall records a single invocation of Provider.Recognize.
type RecognizeCall struct {
	// PCM is a copy of the audio passed to Recognize.
	PCM []byte
	// Cfg is the RecognizeConfig passed to Recognize.
	Cfg stt.RecognizeConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// RecognizeFunc, if set, computes the result of every call. It takes
	// precedence over Result and Err.
	RecognizeFunc func(ctx context.Context, pcm []byte, cfg stt.RecognizeConfig) (types.RecognitionResult, error)

	// Result is returned by Recognize when RecognizeFunc is nil.
	Result types.RecognitionResult

	// Err, if non-nil, is returned by Recognize when RecognizeFunc is nil.
	Err error

	// CapabilitiesResult is returned by Capabilities.
	CapabilitiesResult stt.Capabilities

	// RecognizeCalls records every call to Recognize.
	RecognizeCalls []RecognizeCall

	// ResetCalls counts calls to Reset.
	ResetCalls int

	active    int
	maxActive int
}

// Recognize records the call and returns the configured result.
func (p *Provider) Recognize(ctx context.Context, pcm []byte, cfg stt.RecognizeConfig) (types.RecognitionResult, error) {
	p.mu.Lock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.RecognizeCalls = append(p.RecognizeCalls, RecognizeCall{PCM: cp, Cfg: cfg})
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	fn, res, err := p.RecognizeFunc, p.Result, p.Err
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if fn != nil {
		return fn(ctx, pcm, cfg)
	}
	if err != nil {
		return types.RecognitionResult{}, err
	}
	return res, nil
}

// Reset implements stt.Provider and counts the call. It does not clear the
// recorded calls; use Clear for that.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ResetCalls++
}

// Capabilities returns CapabilitiesResult.
func (p *Provider) Capabilities() stt.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CapabilitiesResult
}

// CallCount returns the number of Recognize calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.RecognizeCalls)
}

// MaxConcurrent returns the highest number of Recognize calls that were in
// progress at the same time.
func (p *Provider) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

// Clear removes all recorded calls. Thread-safe.
func (p *Provider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecognizeCalls = nil
	p.ResetCalls = 0
	p.maxActive = 0
}
