// Package recognize turns segmented audio chunks into text.
//
// A [Gateway] wraps an [stt.Provider] and never fails: backend errors,
// cancellation and noise all end as an empty [types.RecognitionResult] that
// carries the chunk's sequence number, so downstream ordering can always
// resolve the chunk.
package recognize

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/hermes/internal/observe"
	"github.com/MrWong99/hermes/pkg/provider/stt"
	"github.com/MrWong99/hermes/pkg/types"
)

// DefaultMinChars is the shortest trimmed transcript, in runes, that is kept.
const DefaultMinChars = 2

// Corrector rewrites a transcript, e.g. to snap misheard words to a glossary.
// The phonetic glossary matcher implements it.
type Corrector interface {
	Correct(text string) string
}

// Stats is a snapshot of the gateway counters.
type Stats struct {
	// Recognized counts chunks that produced text.
	Recognized uint64

	// Empty counts chunks without usable speech, including dropped noise.
	Empty uint64

	// Failures counts backend errors and cancellations.
	Failures uint64
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithMinChars sets the minimum transcript length in runes. Shorter
// transcripts are treated as noise. Default: 2.
func WithMinChars(n int) Option {
	return func(g *Gateway) {
		g.minChars = n
	}
}

// WithLanguage sets the language hint passed to the backend.
func WithLanguage(lang string) Option {
	return func(g *Gateway) {
		g.language = lang
	}
}

// WithCorrector post-processes every non-empty transcript with c.
func WithCorrector(c Corrector) Option {
	return func(g *Gateway) {
		g.corrector = c
	}
}

// WithMetrics records recognition latency.
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

// Gateway recognizes one chunk at a time on behalf of the pipeline. It is
// safe for concurrent use; calls are serialized when the provider does not
// support concurrency.
type Gateway struct {
	provider  stt.Provider
	minChars  int
	language  string
	corrector Corrector
	metrics   *observe.Metrics
	log       *slog.Logger

	serial bool
	mu     sync.Mutex

	recognized, empty, failures atomic.Uint64
}

// New returns a [Gateway] in front of p.
func New(p stt.Provider, opts ...Option) *Gateway {
	g := &Gateway{
		provider: p,
		minChars: DefaultMinChars,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	g.serial = !p.Capabilities().Concurrent
	return g
}

// Recognize transcribes chunk. The result always carries chunk.Seq and is
// final. Text is empty when the chunk held no usable speech or recognition
// failed.
func (g *Gateway) Recognize(ctx context.Context, chunk types.AudioChunk) types.RecognitionResult {
	empty := types.RecognitionResult{IsFinal: true, Seq: chunk.Seq}
	if len(chunk.PCM) == 0 {
		g.empty.Add(1)
		return empty
	}

	ctx, span := observe.StartChunkSpan(ctx, "recognize", chunk.Seq,
		attribute.Int("chunk.bytes", len(chunk.PCM)))
	defer span.End()

	res, err := g.call(ctx, chunk.PCM)
	if err != nil {
		g.failures.Add(1)
		observe.Fail(span, err)
		observe.WithTrace(ctx, g.log).Warn("recognize: backend failed", "seq", chunk.Seq, "err", err)
		return empty
	}

	text := strings.TrimSpace(res.Text)
	if text == "" || utf8.RuneCountInString(text) < g.minChars {
		g.empty.Add(1)
		if text != "" {
			g.log.Debug("recognize: dropped short transcript", "seq", chunk.Seq, "text", text)
		}
		return empty
	}
	if g.corrector != nil {
		text = g.corrector.Correct(text)
	}
	g.recognized.Add(1)
	return types.RecognitionResult{Text: text, IsFinal: true, Seq: chunk.Seq}
}

func (g *Gateway) call(ctx context.Context, pcm []byte) (types.RecognitionResult, error) {
	if g.serial {
		g.mu.Lock()
		defer g.mu.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return types.RecognitionResult{}, err
	}

	start := time.Now()
	res, err := g.provider.Recognize(ctx, pcm, stt.RecognizeConfig{
		SampleRate: types.SampleRate,
		Language:   g.language,
	})
	if g.metrics != nil {
		g.metrics.RecognizeDuration.Record(ctx, time.Since(start).Seconds())
	}
	return res, err
}

// Reset drops any context the backend kept from earlier chunks.
func (g *Gateway) Reset() {
	if g.serial {
		g.mu.Lock()
		defer g.mu.Unlock()
	}
	g.provider.Reset()
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Recognized: g.recognized.Load(),
		Empty:      g.empty.Load(),
		Failures:   g.failures.Load(),
	}
}
