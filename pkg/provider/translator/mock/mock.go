// Package mock provides a test double for the translator.Provider and
// translator.Provisioner interfaces.
//
// Example:
//
//	p := &mock.Provider{Result: "привет"}
//	out, _ := p.Translate(ctx, "hello", "en", "ru")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/hermes/pkg/provider/translator"
)

// Compile-time interface assertions.
var (
	_ translator.Provider    = (*Provider)(nil)
	_ translator.Provisioner = (*Provider)(nil)
)

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	Text       string
	SourceLang string
	TargetLang string
}

// Provider is a mock implementation of translator.Provider.
type Provider struct {
	mu sync.Mutex

	// TranslateFunc, if set, computes every result. It takes precedence over
	// Result and Err.
	TranslateFunc func(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// Result is returned by Translate when TranslateFunc is nil. An empty
	// Result echoes the input prefixed with "tr:".
	Result string

	// Err, if non-nil, is returned by Translate when TranslateFunc is nil.
	Err error

	// NotReady makes Ready return false until Provision is called.
	NotReady bool

	// ProvisionErr, if non-nil, is returned by Provision and leaves the
	// provider not ready.
	ProvisionErr error

	// TranslateCalls records every call to Translate.
	TranslateCalls []TranslateCall

	// ProvisionCalls counts calls to Provision.
	ProvisionCalls int
}

// Translate records the call and returns the configured result.
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	p.mu.Lock()
	p.TranslateCalls = append(p.TranslateCalls, TranslateCall{Text: text, SourceLang: sourceLang, TargetLang: targetLang})
	fn, res, err := p.TranslateFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, sourceLang, targetLang)
	}
	if err != nil {
		return "", err
	}
	if res == "" {
		return "tr:" + text, nil
	}
	return res, nil
}

// Ready implements translator.Provisioner.
func (p *Provider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.NotReady
}

// Provision implements translator.Provisioner.
func (p *Provider) Provision(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ProvisionCalls++
	if p.ProvisionErr != nil {
		return p.ProvisionErr
	}
	p.NotReady = false
	return nil
}

// CallCount returns the number of Translate calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranslateCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = nil
	p.ProvisionCalls = 0
}
