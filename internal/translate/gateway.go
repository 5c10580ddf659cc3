// Package translate turns recognized text into the target language.
//
// A [Gateway] resolves every request through three layers, cheapest first:
// a per-target-language phrase table of gaming shortcuts, a bounded LRU
// cache of earlier backend results, and finally the translation backend.
// Lookups are keyed by the normalized text (trimmed and lower-cased).
// Backend failures never surface: the caller gets the original text back.
package translate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/hermes/internal/observe"
	"github.com/MrWong99/hermes/pkg/provider/translator"
	"github.com/MrWong99/hermes/pkg/types"
)

// DefaultCapacity is the number of cached translations kept by default.
const DefaultCapacity = 500

// Stats is a snapshot of the gateway counters.
type Stats struct {
	// Hits counts answers served from the cache.
	Hits uint64

	// Misses counts lookups that reached the backend stage.
	Misses uint64

	// PhraseHits counts answers served from a phrase table.
	PhraseHits uint64

	// BackendCalls counts calls made to the translation backend.
	BackendCalls uint64

	// Failures counts backend calls that returned an error.
	Failures uint64

	// PassThrough counts misses answered with the input because no backend
	// was available.
	PassThrough uint64

	// Evictions counts entries dropped to stay within capacity.
	Evictions uint64

	// Size is the number of cached entries.
	Size int
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithCapacity sets the maximum number of cached translations. Default: 500.
func WithCapacity(n int) Option {
	return func(g *Gateway) {
		g.capacity = n
	}
}

// WithPhrases merges a shortcut table for target language lang. Keys are
// normalized before insertion; later tables override earlier entries.
func WithPhrases(lang string, phrases map[string]string) Option {
	return func(g *Gateway) {
		lang = Normalize(lang)
		t := g.phrases[lang]
		if t == nil {
			t = make(map[string]string, len(phrases))
			g.phrases[lang] = t
		}
		for k, v := range phrases {
			t[Normalize(k)] = v
		}
	}
}

// WithoutBuiltinPhrases drops the built-in tables. Tables added with
// [WithPhrases] after this option are kept.
func WithoutBuiltinPhrases() Option {
	return func(g *Gateway) {
		g.phrases = make(map[string]map[string]string)
	}
}

// WithLanguages sets the initial source and target languages. Default: en → ru.
func WithLanguages(source, target string) Option {
	return func(g *Gateway) {
		g.source = SourceLanguage(source)
		g.target = Normalize(target)
	}
}

// WithMetrics records lookup outcomes and backend latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

// Gateway is a caching translation front end. It is safe for concurrent use.
type Gateway struct {
	provider translator.Provider
	capacity int
	phrases  map[string]map[string]string
	metrics  *observe.Metrics
	log      *slog.Logger

	mu     sync.RWMutex
	source string
	target string

	cache  *lru.Cache[string, types.TranslationEntry]
	flight singleflight.Group

	hits, misses, phraseHits, backendCalls atomic.Uint64
	failures, passThrough, evictions       atomic.Uint64
}

// New returns a [Gateway] in front of p. A nil p makes the gateway work
// offline: phrase tables and the cache still answer, everything else is
// passed through unchanged.
func New(p translator.Provider, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		provider: p,
		capacity: DefaultCapacity,
		phrases:  BuiltinPhrases(),
		log:      slog.Default(),
		source:   DefaultSourceLanguage,
		target:   DefaultTargetLanguage,
	}
	for _, o := range opts {
		o(g)
	}
	if g.capacity <= 0 {
		return nil, fmt.Errorf("translate: capacity must be positive, got %d", g.capacity)
	}
	cache, err := lru.New[string, types.TranslationEntry](g.capacity)
	if err != nil {
		return nil, fmt.Errorf("translate: create cache: %w", err)
	}
	g.cache = cache
	return g, nil
}

// Languages returns the current source and target languages.
func (g *Gateway) Languages() (source, target string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.source, g.target
}

// SetLanguages changes the language pair. The cache is cleared when either
// language changes. Unsupported source languages fall back to English.
func (g *Gateway) SetLanguages(source, target string) {
	source, target = SourceLanguage(source), Normalize(target)
	g.mu.Lock()
	changed := source != g.source || target != g.target
	g.source, g.target = source, target
	g.mu.Unlock()
	if changed {
		g.ClearCache()
		g.log.Info("translate: language pair changed", "source", source, "target", target)
	}
}

// Translate returns text in the target language. It never fails: blank input
// yields "", and when no translation can be obtained the input is returned
// unchanged.
func (g *Gateway) Translate(ctx context.Context, text string) string {
	key := Normalize(text)
	if key == "" {
		return ""
	}
	source, target := g.Languages()

	if out, ok := g.phrases[target][key]; ok {
		g.phraseHits.Add(1)
		g.recordLookup(ctx, observe.LookupPhrase)
		return out
	}
	if e, ok := g.cache.Get(key); ok {
		g.hits.Add(1)
		g.recordLookup(ctx, observe.LookupHit)
		return e.Translated
	}
	g.misses.Add(1)

	if g.provider == nil || !translator.IsReady(g.provider) {
		g.passThrough.Add(1)
		g.recordLookup(ctx, observe.LookupPassThrough)
		return text
	}

	// Concurrent misses for the same text share one backend call.
	v, err, _ := g.flight.Do(source+"\x00"+target+"\x00"+key, func() (any, error) {
		return g.callBackend(ctx, text, source, target)
	})
	if err != nil {
		g.failures.Add(1)
		g.recordLookup(ctx, observe.LookupFailed)
		observe.WithTrace(ctx, g.log).Warn("translate: backend failed, passing through", "err", err)
		return text
	}
	out := v.(string)

	// Discard results of a pair that was replaced while the call was running.
	if s, t := g.Languages(); s == source && t == target {
		if g.cache.Add(key, types.TranslationEntry{Source: key, Translated: out, Timestamp: time.Now()}) {
			g.evictions.Add(1)
		}
	}
	g.recordLookup(ctx, observe.LookupMiss)
	return out
}

func (g *Gateway) callBackend(ctx context.Context, text, source, target string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "translate.backend",
		trace.WithAttributes(
			attribute.String("translate.source", source),
			attribute.String("translate.target", target),
		))
	defer span.End()

	g.backendCalls.Add(1)
	start := time.Now()
	out, err := g.provider.Translate(ctx, text, source, target)
	if g.metrics != nil {
		g.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		observe.Fail(span, err)
		return "", err
	}
	return out, nil
}

// ClearCache purges every cached translation. It is safe to call concurrently
// with Translate.
func (g *Gateway) ClearCache() {
	g.cache.Purge()
}

// Lookup returns the cached entry for text without touching its recency.
func (g *Gateway) Lookup(text string) (types.TranslationEntry, bool) {
	return g.cache.Peek(Normalize(text))
}

// Ready reports whether the backend can translate. Offline gateways are
// never ready.
func (g *Gateway) Ready() bool {
	return g.provider != nil && translator.IsReady(g.provider)
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Hits:         g.hits.Load(),
		Misses:       g.misses.Load(),
		PhraseHits:   g.phraseHits.Load(),
		BackendCalls: g.backendCalls.Load(),
		Failures:     g.failures.Load(),
		PassThrough:  g.passThrough.Load(),
		Evictions:    g.evictions.Load(),
		Size:         g.cache.Len(),
	}
}

func (g *Gateway) recordLookup(ctx context.Context, result string) {
	if g.metrics != nil {
		g.metrics.RecordTranslationLookup(ctx, result)
	}
}
