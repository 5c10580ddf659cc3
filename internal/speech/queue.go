// Package speech speaks translations one at a time.
//
// A [Queue] is a single-consumer FIFO of [types.SpeechTask]. Enqueue never
// blocks; a background goroutine takes tasks front to back, acquires the
// exclusive audio output through a [Focus], and hands the text to a
// [Synthesizer]. New tasks never preempt the one being spoken.
package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hermes/internal/observe"
	"github.com/MrWong99/hermes/pkg/types"
)

// DefaultSpeakTimeout bounds a single synthesis.
const DefaultSpeakTimeout = time.Minute

// Speech task outcomes recorded in metrics.
const (
	statusOK      = "ok"
	statusError   = "error"
	statusStopped = "stopped"
)

// State is the speaking state of a [Queue].
type State int

const (
	// Idle means no task holds the output.
	Idle State = iota

	// Speaking means a task is being synthesized.
	Speaking
)

// String returns "idle" or "speaking".
func (s State) String() string {
	if s == Speaking {
		return "speaking"
	}
	return "idle"
}

// Synthesizer speaks text. Speak returns when the utterance finished or
// failed. Stop aborts the utterance in progress, if any.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// Focus grants exclusive use of the audio output. The returned release func
// gives it back and may be called more than once.
type Focus interface {
	Acquire(ctx context.Context, owner string) (release func(), err error)
}

// Option configures a [Queue].
type Option func(*Queue)

// WithFocus makes the queue acquire f before every task. Without a focus the
// output is assumed to be free.
func WithFocus(f Focus) Option {
	return func(q *Queue) {
		q.focus = f
	}
}

// WithSpeakTimeout bounds each synthesis. Zero disables the bound. Default:
// one minute.
func WithSpeakTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.timeout = d
	}
}

// WithMetrics records queue depth and speech durations.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.log = l
	}
}

// Queue is a FIFO of speech tasks with a single consumer. All methods are
// safe for concurrent use.
type Queue struct {
	synth   Synthesizer
	focus   Focus
	timeout time.Duration
	metrics *observe.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	pending []types.SpeechTask
	state   State
	cancel  context.CancelFunc // cancels the task being spoken
	release func()             // gives back the focus of that task
	gen     uint64             // bumped by Stop; older tasks no longer own the state
	closed  bool

	ctx      context.Context
	stopAll  context.CancelFunc
	notify   chan struct{}
	finished chan struct{}
}

// NewQueue returns a running Queue that speaks through s. Call Close to stop
// the consumer.
func NewQueue(s Synthesizer, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		synth:    s,
		timeout:  DefaultSpeakTimeout,
		log:      slog.Default(),
		ctx:      ctx,
		stopAll:  cancel,
		notify:   make(chan struct{}, 1),
		finished: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.consume()
	return q
}

// Enqueue appends task to the queue. It never blocks. Tasks with blank text
// and tasks enqueued after Close are dropped.
func (q *Queue) Enqueue(task types.SpeechTask) {
	if task.Text == "" {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.Debug("speech: dropped task after close", "request_id", task.RequestID)
		return
	}
	q.pending = append(q.pending, task)
	q.mu.Unlock()
	q.addDepth(1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// State returns the current speaking state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Len returns the number of tasks waiting to be spoken, excluding the one in
// progress.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop drops every waiting task, aborts the task being spoken, gives back its
// output focus and forces the queue to Idle. The queue stays usable.
func (q *Queue) Stop() {
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.gen++
	cancel, release := q.cancel, q.release
	q.cancel, q.release = nil, nil
	q.state = Idle
	q.mu.Unlock()

	q.addDepth(-int64(dropped))
	if cancel != nil {
		cancel()
	}
	q.synth.Stop()
	if release != nil {
		release()
	}
	if dropped > 0 {
		q.log.Debug("speech: cleared queue", "dropped", dropped)
	}
}

// Close stops the queue like Stop and terminates the consumer goroutine. It
// blocks until the consumer exited. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.finished
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Stop()
	q.stopAll()
	<-q.finished
}

func (q *Queue) consume() {
	defer close(q.finished)
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.notify:
		}
		for {
			task, ctx, gen, ok := q.next()
			if !ok {
				break
			}
			q.speak(ctx, task, gen)
		}
	}
}

// next pops the front task and marks the queue as speaking.
func (q *Queue) next() (types.SpeechTask, context.Context, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return types.SpeechTask{}, nil, 0, false
	}
	task := q.pending[0]
	q.pending[0] = types.SpeechTask{}
	q.pending = q.pending[1:]

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if q.timeout > 0 {
		ctx, cancel = context.WithTimeout(q.ctx, q.timeout)
	} else {
		ctx, cancel = context.WithCancel(q.ctx)
	}
	q.cancel = cancel
	q.state = Speaking
	q.addDepth(-1)
	return task, ctx, q.gen, true
}

func (q *Queue) speak(ctx context.Context, task types.SpeechTask, gen uint64) {
	log := q.log.With("request_id", task.RequestID)

	if q.focus != nil {
		release, err := q.focus.Acquire(ctx, task.RequestID)
		switch {
		case err != nil && (ctx.Err() != nil || !q.current(gen)):
			// Stopped before the focus was granted.
			q.recordTask(statusStopped)
			q.finish(gen)
			return
		case err != nil:
			log.Warn("speech: output focus not granted, speaking anyway", "err", err)
		case !q.setRelease(gen, release):
			// Stopped while acquiring.
			release()
			q.recordTask(statusStopped)
			return
		}
	}

	start := time.Now()
	err := q.synth.Speak(ctx, task.Text)
	elapsed := time.Since(start)

	status := statusOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) || !q.current(gen):
		status = statusStopped
	default:
		status = statusError
		log.Warn("speech: synthesis failed", "err", err)
	}
	if q.metrics != nil {
		q.metrics.SpeakDuration.Record(context.Background(), elapsed.Seconds())
		q.metrics.RecordSpeechTask(context.Background(), status)
	}
	q.finish(gen)
}

// setRelease stores the focus release of the task started at gen. It reports
// false when the task was stopped in the meantime.
func (q *Queue) setRelease(gen uint64, release func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.gen != gen {
		return false
	}
	q.release = release
	return true
}

func (q *Queue) current(gen uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen == gen
}

// finish releases the focus and returns to Idle unless Stop already did.
func (q *Queue) finish(gen uint64) {
	q.mu.Lock()
	if q.gen != gen {
		q.mu.Unlock()
		return
	}
	cancel, release := q.cancel, q.release
	q.cancel, q.release = nil, nil
	q.state = Idle
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if release != nil {
		release()
	}
}

func (q *Queue) recordTask(status string) {
	if q.metrics != nil {
		q.metrics.RecordSpeechTask(context.Background(), status)
	}
}

func (q *Queue) addDepth(n int64) {
	if q.metrics != nil && n != 0 {
		q.metrics.SpeechQueueDepth.Add(context.Background(), n)
	}
}
