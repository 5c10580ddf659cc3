package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hermes/internal/fanout"
	"github.com/MrWong99/hermes/pkg/types"
)

// Compile-time interface assertion.
var _ fanout.Recorder = (*Recorder)(nil)

// ErrRecorderFull is returned by Record when the write queue is full.
var ErrRecorderFull = errors.New("history: recorder queue full")

// Appender persists a single result. [*Store] implements it.
type Appender interface {
	Append(ctx context.Context, sessionID string, r types.TranslationResult) error
}

// Defaults.
const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 5 * time.Second
)

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithQueueSize sets how many results may wait for the database. Default:
// 256.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithWriteTimeout bounds a single append. Default: 5s.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithSessionID sets the session the results are filed under. Default: a
// random UUID per Recorder.
func WithSessionID(id string) RecorderOption {
	return func(r *Recorder) {
		if id != "" {
			r.session = id
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.log = l
	}
}

// Recorder appends delivered translations in the background, in delivery
// order.
type Recorder struct {
	app          Appender
	queueSize    int
	writeTimeout time.Duration
	session      string
	log          *slog.Logger

	queue chan types.TranslationResult
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	written, failed, dropped atomic.Uint64
}

// NewRecorder starts a Recorder writing to app. Call Close to flush it.
func NewRecorder(app Appender, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		app:          app,
		queueSize:    DefaultQueueSize,
		writeTimeout: DefaultWriteTimeout,
		session:      uuid.NewString(),
		log:          slog.Default(),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.queue = make(chan types.TranslationResult, r.queueSize)
	go r.run()
	return r
}

// SessionID returns the session the results are filed under.
func (r *Recorder) SessionID() string { return r.session }

// Record implements [fanout.Recorder]. It never blocks; when the queue is
// full the result is dropped and ErrRecorderFull returned.
func (r *Recorder) Record(_ context.Context, res types.TranslationResult) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.New("history: recorder closed")
	}
	select {
	case r.queue <- res:
		return nil
	default:
		r.dropped.Add(1)
		return ErrRecorderFull
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for res := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		err := r.app.Append(ctx, r.session, res)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.log.Warn("history: append failed", "seq", res.Seq, "err", err)
			continue
		}
		r.written.Add(1)
	}
}

// Close stops accepting results and waits until the queued ones were
// written or ctx expires.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecorderStats counts the fate of recorded results.
type RecorderStats struct {
	Written, Failed, Dropped uint64
}

// Stats returns a snapshot of the counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
	}
}
