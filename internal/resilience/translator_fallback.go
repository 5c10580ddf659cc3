package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/hermes/pkg/provider/translator"
)

// TranslatorFallback implements [translator.Provider] with automatic failover
// across multiple translation backends. Backends that implement
// [translator.Provisioner] and are not ready yet are skipped.
type TranslatorFallback struct {
	group *FallbackGroup[translator.Provider]
}

// Compile-time interface assertions.
var (
	_ translator.Provider    = (*TranslatorFallback)(nil)
	_ translator.Provisioner = (*TranslatorFallback)(nil)
)

// ErrNotReady is returned by [TranslatorFallback.Translate] when every
// backend is still provisioning.
var ErrNotReady = errors.New("resilience: translator not provisioned")

// NewTranslatorFallback creates a [TranslatorFallback] with primary as the
// preferred backend.
func NewTranslatorFallback(primary translator.Provider, primaryName string, cfg FallbackConfig) *TranslatorFallback {
	if cfg.Kind == "" {
		cfg.Kind = "translator"
	}
	return &TranslatorFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional translator as a fallback.
func (f *TranslatorFallback) AddFallback(name string, provider translator.Provider) {
	f.group.AddFallback(name, provider)
}

// Status reports the breaker state of every backend.
func (f *TranslatorFallback) Status() []EntryStatus { return f.group.Status() }

// Translate implements [translator.Provider] using the first healthy, ready
// backend.
func (f *TranslatorFallback) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var ready bool
	out, err := ExecuteWithResult(ctx, f.group, func(p translator.Provider) (string, error) {
		if !translator.IsReady(p) {
			return "", ErrSkip
		}
		ready = true
		return p.Translate(ctx, text, sourceLang, targetLang)
	})
	if err != nil && !ready {
		return "", fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return out, err
}

// Ready reports whether at least one backend can translate.
func (f *TranslatorFallback) Ready() bool {
	ready := false
	f.group.Each(func(_ string, p translator.Provider) {
		if translator.IsReady(p) {
			ready = true
		}
	})
	return ready
}

// Provision provisions every backend that needs it. It fails only when no
// backend is ready afterwards; individual failures are joined into the error.
func (f *TranslatorFallback) Provision(ctx context.Context) error {
	var errs []error
	f.group.Each(func(name string, p translator.Provider) {
		pv, ok := p.(translator.Provisioner)
		if !ok || pv.Ready() {
			return
		}
		if err := pv.Provision(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	})
	if f.Ready() {
		return nil
	}
	if len(errs) == 0 {
		return ErrNotReady
	}
	return errors.Join(errs...)
}
