// Package pipeline runs one listen → recognize → translate → fan-out session.
//
// A [Pipeline] owns three kinds of goroutines:
//
//   - the capture loop reads blocks from the [audio.Source] and feeds the
//     segmenter. It never waits for downstream work; chunks that do not fit
//     into the backlog are dropped.
//   - a bounded set of workers recognize and translate chunks concurrently.
//   - the delivery loop releases finished chunks to the fan-out strictly in
//     sequence order, holding early finishers in a reorder buffer.
//
// Every dispatched chunk resolves exactly once, either with a result or as
// empty, so delivery never waits forever. A Pipeline runs once; a new run
// needs a new Pipeline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hermes/internal/fanout"
	"github.com/MrWong99/hermes/internal/observe"
	"github.com/MrWong99/hermes/internal/segment"
	"github.com/MrWong99/hermes/pkg/audio"
	"github.com/MrWong99/hermes/pkg/types"
)

// Defaults.
const (
	DefaultMaxInFlight   = 4
	DefaultMaxBacklog    = 32
	DefaultMaxReadErrors = 3
	DefaultJoinTimeout   = time.Second
)

// Sentinel errors.
var (
	// ErrInvalidFormat is returned by Start when the source does not deliver
	// 16 kHz mono audio in positive block sizes.
	ErrInvalidFormat = errors.New("pipeline: invalid source format")

	// ErrAlreadyStarted is returned by Start on a pipeline that was started
	// before.
	ErrAlreadyStarted = errors.New("pipeline: already started")

	// ErrNeedsRestart is returned by Reconfigure when the new config changes
	// the audio path.
	ErrNeedsRestart = errors.New("pipeline: configuration change needs a restart")
)

// Recognizer turns a chunk into text. It never fails; an empty Text means
// nothing usable was heard.
type Recognizer interface {
	Recognize(ctx context.Context, chunk types.AudioChunk) types.RecognitionResult
	Reset()
}

// Translator turns text into the target language. It never fails; when no
// translation is available the input comes back unchanged.
type Translator interface {
	Translate(ctx context.Context, text string) string
}

// Queue is the speech output.
type Queue interface {
	Enqueue(task types.SpeechTask)
	Stop()
}

// Overlay is the on-screen output.
type Overlay interface {
	Show(original, translated string)
	Hide()
	Configure(opacity, sensitivity int)
}

// Deps are the collaborators of a run. Source, Recognizer and Translator are
// required. A nil Queue or Overlay disables that output; Recorder is
// optional.
type Deps struct {
	Source     audio.Source
	Recognizer Recognizer
	Translator Translator
	Queue      Queue
	Overlay    Overlay
	Recorder   fanout.Recorder
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMaxInFlight bounds how many chunks are recognized and translated at
// the same time. Default: 4.
func WithMaxInFlight(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxInFlight = n
		}
	}
}

// WithMaxBacklog bounds how many chunks may wait for a worker. Chunks beyond
// it are dropped. Default: 32.
func WithMaxBacklog(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.maxBacklog = n
		}
	}
}

// WithMaxReadErrors sets how many consecutive read errors end capture.
// Default: 3.
func WithMaxReadErrors(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxReadErrors = n
		}
	}
}

// WithJoinTimeout bounds how long Stop waits for the goroutines of the run.
// Default: 1s.
func WithJoinTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.joinTimeout = d
		}
	}
}

// WithMetrics records chunk outcomes and latencies.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// WithID sets the run identifier. Default: a random UUID.
func WithID(id string) Option {
	return func(p *Pipeline) {
		if id != "" {
			p.id = id
		}
	}
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	// Chunks counts chunks emitted by the segmenter.
	Chunks uint64

	// Delivered counts chunks that reached at least one output.
	Delivered uint64

	// Empty counts chunks that resolved without text.
	Empty uint64

	// Dropped counts chunks that did not fit into the backlog.
	Dropped uint64

	// Discarded counts results that finished after Stop.
	Discarded uint64

	// ReadErrors counts failed source reads.
	ReadErrors uint64
}

// result is a resolved chunk waiting for delivery.
type result struct {
	seq        uint64
	original   string
	translated string
	emitted    time.Time
}

func (r result) empty() bool { return r.translated == "" }

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopped
)

// Pipeline is a single run. Its methods are safe for concurrent use.
type Pipeline struct {
	id   string
	deps Deps
	cfg  atomic.Pointer[Config]

	maxInFlight   int
	maxBacklog    int
	maxReadErrors int
	joinTimeout   time.Duration
	metrics       *observe.Metrics
	log           *slog.Logger

	dispatcher *fanout.Dispatcher
	order      *reorder[result]
	jobs       chan types.AudioChunk

	mu            sync.Mutex
	state         runState
	cancelCapture context.CancelFunc
	cancelRun     context.CancelFunc
	captureDone   chan struct{}
	done          chan struct{}
	stopOnce      sync.Once
	stopped       atomic.Bool
	sourceClosed  atomic.Bool

	chunks, delivered, empty   atomic.Uint64
	dropped, discarded, rdErrs atomic.Uint64
}

// New returns an idle Pipeline.
func New(cfg Config, deps Deps, opts ...Option) (*Pipeline, error) {
	var errs []error
	if deps.Source == nil {
		errs = append(errs, errors.New("pipeline: source is required"))
	}
	if deps.Recognizer == nil {
		errs = append(errs, errors.New("pipeline: recognizer is required"))
	}
	if deps.Translator == nil {
		errs = append(errs, errors.New("pipeline: translator is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	p := &Pipeline{
		id:            uuid.NewString(),
		deps:          deps,
		maxInFlight:   DefaultMaxInFlight,
		maxBacklog:    DefaultMaxBacklog,
		maxReadErrors: DefaultMaxReadErrors,
		joinTimeout:   DefaultJoinTimeout,
		log:           slog.Default(),
		order:         newReorder[result](1),
		captureDone:   make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("pipeline_id", p.id)
	p.cfg.Store(&cfg)
	p.jobs = make(chan types.AudioChunk, p.maxBacklog)

	var overlay fanout.Overlay
	if deps.Overlay != nil {
		overlay = deps.Overlay
	}
	var speech fanout.Speech
	if deps.Queue != nil {
		speech = deps.Queue
	}
	dopts := []fanout.Option{fanout.WithLogger(p.log)}
	if deps.Recorder != nil {
		dopts = append(dopts, fanout.WithRecorder(deps.Recorder))
	}
	p.dispatcher = fanout.NewDispatcher(overlay, speech, dopts...)
	return p, nil
}

// ID returns the identifier of this run, as used in logs.
func (p *Pipeline) ID() string { return p.id }

// Config returns the current configuration snapshot.
func (p *Pipeline) Config() Config { return *p.cfg.Load() }

// Start validates the source and starts the run. The run ends at end of
// stream, after repeated read errors, or when Stop is called or ctx is
// cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateIdle {
		return ErrAlreadyStarted
	}

	f := p.deps.Source.Format()
	if f.SampleRate != types.SampleRate || f.Channels != 1 || f.BlockSize <= 0 {
		return fmt.Errorf("%w: got %s, want %dHz mono with a positive block size", ErrInvalidFormat, f, types.SampleRate)
	}

	cfg := p.Config()
	p.deps.Recognizer.Reset()
	if p.deps.Overlay != nil {
		p.deps.Overlay.Configure(cfg.Opacity, cfg.Sensitivity)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	captureCtx, cancelCapture := context.WithCancel(runCtx)
	p.cancelRun, p.cancelCapture = cancelRun, cancelCapture
	p.state = stateRunning

	seg := segment.New(
		segment.WithMode(cfg.Profile()),
		segment.WithSensitivity(cfg.Sensitivity),
		segment.WithLogger(p.log),
	)

	var workers errgroup.Group
	for range p.maxInFlight {
		workers.Go(func() error {
			p.work(runCtx)
			return nil
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		defer close(p.captureDone)
		p.capture(captureCtx, seg)
		return nil
	})
	g.Go(func() error {
		_ = workers.Wait()
		p.order.close()
		return nil
	})
	g.Go(func() error {
		p.deliver(runCtx)
		return nil
	})

	if p.metrics != nil {
		p.metrics.ActivePipelines.Add(context.Background(), 1)
	}
	go func() {
		_ = g.Wait()
		cancelRun()
		if p.metrics != nil {
			p.metrics.ActivePipelines.Add(context.Background(), -1)
		}
		p.log.Info("pipeline: run finished", "stats", p.Stats())
		close(p.done)
	}()

	p.log.Info("pipeline: started",
		"format", f.String(),
		"mode", cfg.Profile().Mode,
		"source_lang", cfg.SourceLanguage,
		"target_lang", cfg.TargetLanguage,
	)
	return nil
}

// capture reads the source until it ends and dispatches every chunk the
// segmenter emits. It closes the job channel on return.
func (p *Pipeline) capture(ctx context.Context, seg *segment.Segmenter) {
	defer close(p.jobs)

	consecutive := 0
	for {
		block, err := p.deps.Source.Read(ctx)
		switch {
		case err == nil:
			consecutive = 0
			for _, c := range seg.Feed(block) {
				p.dispatch(c)
			}
			continue

		case ctx.Err() != nil:
			p.log.Debug("pipeline: capture cancelled")
			return

		case errors.Is(err, io.EOF):
			p.flush(seg)
			p.log.Info("pipeline: end of stream")
			return

		case errors.Is(err, audio.ErrClosed):
			p.flush(seg)
			p.log.Info("pipeline: source closed")
			return
		}

		consecutive++
		p.rdErrs.Add(1)
		p.flush(seg)
		if consecutive >= p.maxReadErrors {
			p.log.Error("pipeline: too many read errors, stopping capture", "count", consecutive, "err", err)
			return
		}
		p.log.Warn("pipeline: read failed", "count", consecutive, "err", err)
	}
}

func (p *Pipeline) flush(seg *segment.Segmenter) {
	for _, c := range seg.Flush() {
		p.dispatch(c)
	}
}

// dispatch hands c to a worker without blocking. A full backlog drops c and
// resolves it as empty.
func (p *Pipeline) dispatch(c types.AudioChunk) {
	p.chunks.Add(1)
	p.recordChunk(observe.ChunkEmitted)
	select {
	case p.jobs <- c:
	default:
		p.dropped.Add(1)
		p.recordChunk(observe.ChunkDropped)
		p.log.Warn("pipeline: backlog full, dropping chunk", "seq", c.Seq, "backlog", p.maxBacklog)
		p.order.put(c.Seq, result{seq: c.Seq, emitted: time.Now()})
	}
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Resolve what is left so the reorder buffer is not waiting on
			// chunks nobody will process.
			for c := range p.jobs {
				p.order.put(c.Seq, result{seq: c.Seq})
			}
			return
		case c, ok := <-p.jobs:
			if !ok {
				return
			}
			p.order.put(c.Seq, p.process(ctx, c))
		}
	}
}

// process recognizes and translates one chunk.
func (p *Pipeline) process(ctx context.Context, c types.AudioChunk) result {
	res := result{seq: c.Seq, emitted: time.Now()}
	if p.metrics != nil {
		p.metrics.InFlightChunks.Add(ctx, 1)
		defer p.metrics.InFlightChunks.Add(context.Background(), -1)
	}

	rec := p.deps.Recognizer.Recognize(ctx, c)
	if rec.Text == "" || ctx.Err() != nil {
		return res
	}
	res.original = rec.Text
	res.translated = p.deps.Translator.Translate(ctx, rec.Text)
	return res
}

// deliver releases resolved chunks in sequence order until every chunk was
// resolved or the run is cancelled.
func (p *Pipeline) deliver(ctx context.Context) {
	for {
		for {
			r, ok := p.order.pop()
			if !ok {
				break
			}
			p.apply(ctx, r)
		}
		if p.order.drained() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.order.notify:
		}
	}
}

func (p *Pipeline) apply(ctx context.Context, r result) {
	if p.stopped.Load() {
		p.discarded.Add(1)
		p.recordChunk(observe.ChunkDiscarded)
		return
	}
	if r.empty() {
		p.empty.Add(1)
		p.recordChunk(observe.ChunkEmpty)
		return
	}

	cfg := p.Config()
	dec := p.dispatcher.Dispatch(ctx, types.TranslationResult{
		Seq:        r.seq,
		Original:   r.original,
		Translated: r.translated,
		SourceLang: cfg.SourceLanguage,
		TargetLang: cfg.TargetLanguage,
		Timestamp:  time.Now(),
	}, cfg.Flags())
	if dec.Empty() {
		p.empty.Add(1)
		p.recordChunk(observe.ChunkEmpty)
		return
	}
	p.delivered.Add(1)
	p.recordChunk(observe.ChunkDelivered)
	if p.metrics != nil && !r.emitted.IsZero() {
		p.metrics.EndToEndDuration.Record(ctx, time.Since(r.emitted).Seconds())
	}
	p.log.Debug("pipeline: delivered", "seq", r.seq)
}

// Stop ends the run: capture is cancelled and joined, in-flight chunks are
// cancelled and their late results discarded, the speech queue is cleared
// and the overlay hidden. Stop is idempotent and never blocks for much
// longer than the join timeout.
func (p *Pipeline) Stop() { p.halt(true) }

// Handoff ends the run like Stop but leaves the outputs alone: the overlay
// keeps its text and auto-hide timer and queued speech is still spoken. It
// is used when a new run takes over the same outputs. Stop and Handoff share
// one shutdown; whichever is called first wins.
func (p *Pipeline) Handoff() { p.halt(false) }

func (p *Pipeline) halt(clearOutputs bool) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started := p.state == stateRunning
		p.state = stateStopped
		cancelCapture, cancelRun := p.cancelCapture, p.cancelRun
		p.mu.Unlock()

		p.stopped.Store(true)
		if started {
			cancelCapture()
			p.join(p.captureDone, "capture")
			cancelRun()
			p.join(p.done, "run")
		} else {
			close(p.done)
		}

		if clearOutputs {
			if p.deps.Queue != nil {
				p.deps.Queue.Stop()
			}
			if p.deps.Overlay != nil {
				p.deps.Overlay.Hide()
			}
		}
		p.log.Info("pipeline: stopped", "outputs_cleared", clearOutputs)
	})
}

// join waits for done up to the join timeout. A source that does not honor
// cancellation is closed to unblock its Read. The source is shared with
// later runs, so a forced close ends capture for them too; see
// [Pipeline.SourceClosed].
func (p *Pipeline) join(done <-chan struct{}, what string) {
	t := time.NewTimer(p.joinTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		p.log.Warn("pipeline: forced termination", "goroutine", what, "timeout", p.joinTimeout)
		if what == "capture" {
			p.sourceClosed.Store(true)
			if err := p.deps.Source.Close(); err != nil {
				p.log.Debug("pipeline: close source", "err", err)
			}
		}
	}
}

// SourceClosed reports whether Stop had to close the source because capture
// ignored cancellation. A closed source cannot feed another run.
func (p *Pipeline) SourceClosed() bool { return p.sourceClosed.Load() }

// Done is closed when the run finished.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Wait blocks until capture ended and every chunk was delivered, or until
// a stopped run wound down. It returns immediately if Start was never
// called.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	idle := p.state == stateIdle
	p.mu.Unlock()
	if idle {
		return
	}
	<-p.done
}

// Running reports whether the run is in progress.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateRunning {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Reconfigure swaps the output flags and the overlay opacity of the running
// configuration. It returns [ErrNeedsRestart] without applying anything when
// cfg changes the audio path; see [NeedsRestart].
func (p *Pipeline) Reconfigure(cfg Config) error {
	old := p.Config()
	if NeedsRestart(old, cfg) {
		return ErrNeedsRestart
	}
	p.cfg.Store(&cfg)
	if p.deps.Overlay != nil && cfg.Opacity != old.Opacity {
		p.deps.Overlay.Configure(cfg.Opacity, cfg.Sensitivity)
	}
	p.log.Info("pipeline: reconfigured",
		"show_original", cfg.ShowOriginal,
		"tts_enabled", cfg.TTSEnabled,
		"opacity", cfg.Opacity,
	)
	return nil
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Chunks:     p.chunks.Load(),
		Delivered:  p.delivered.Load(),
		Empty:      p.empty.Load(),
		Dropped:    p.dropped.Load(),
		Discarded:  p.discarded.Load(),
		ReadErrors: p.rdErrs.Load(),
	}
}

func (p *Pipeline) recordChunk(outcome string) {
	if p.metrics != nil {
		p.metrics.RecordChunk(context.Background(), outcome)
	}
}
