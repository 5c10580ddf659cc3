package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/hermes/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// ErrSkip may be returned (possibly wrapped) by a [FallbackGroup] callback to
// pass over an entry without counting a failure against its breaker.
var ErrSkip = errors.New("resilience: provider skipped")

// FallbackConfig configures a [FallbackGroup] and the circuit breaker created
// for each of its entries.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig

	// Kind labels the provider category in metrics ("stt", "translator",
	// "tts").
	Kind string

	// Metrics records per-provider request outcomes. Nil disables recording.
	Metrics *observe.Metrics
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// EntryStatus is a snapshot of one entry of a [FallbackGroup].
type EntryStatus struct {
	Name  string
	State State
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// Entries must be registered before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
	log     *slog.Logger
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	log := cfg.CircuitBreaker.Logger
	if log == nil {
		log = slog.Default()
	}
	fg := &FallbackGroup[T]{cfg: cfg, log: log}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Len returns the number of registered entries.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// Primary returns the first registered entry.
func (fg *FallbackGroup[T]) Primary() T { return fg.entries[0].value }

// Each calls fn for every entry in registration order.
func (fg *FallbackGroup[T]) Each(fn func(name string, value T)) {
	for _, e := range fg.entries {
		fn(e.name, e.value)
	}
}

// Status returns the breaker state of every entry in registration order.
func (fg *FallbackGroup[T]) Status() []EntryStatus {
	out := make([]EntryStatus, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = EntryStatus{Name: e.name, State: e.breaker.State()}
	}
	return out
}

// Execute tries fn against each entry in order until one succeeds.
// Circuit-breaker-open entries are skipped. Returns [ErrAllFailed] wrapped with
// the last error if every entry fails.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. It stops early, returning the
// context error, once ctx is done. This is a package-level function because
// Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			fg.record(ctx, entry.name, "ok")
			return result, nil
		}
		lastErr = err
		switch {
		case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrSkip):
			fg.log.Debug("resilience: skipping provider", "provider", entry.name, "reason", err)
		case errors.Is(err, context.Canceled):
			return zero, err
		default:
			fg.record(ctx, entry.name, "error")
			fg.log.Warn("resilience: provider failed, trying next", "provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

func (fg *FallbackGroup[T]) record(ctx context.Context, provider, status string) {
	if fg.cfg.Metrics == nil {
		return
	}
	fg.cfg.Metrics.RecordProviderRequest(ctx, provider, fg.cfg.Kind, status)
	if status == "error" {
		fg.cfg.Metrics.RecordProviderError(ctx, provider, fg.cfg.Kind)
	}
}
