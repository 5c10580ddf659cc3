package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hermes/internal/pipeline"
	"github.com/MrWong99/hermes/pkg/types"
)

// Sentinel errors returned by [SessionManager].
var (
	// ErrSessionActive is returned by Start while a run is in progress.
	ErrSessionActive = errors.New("session: a session is already active")

	// ErrNoSession is returned by Stop when nothing runs.
	ErrNoSession = errors.New("session: no active session")

	// ErrCaptureClosed is returned by Start after a run had to close the
	// shared capture source to stop. The source cannot be reopened; the
	// process must be restarted to capture again.
	ErrCaptureClosed = errors.New("session: capture source was closed")
)

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session. It doubles as the
	// pipeline run ID and the history session key.
	SessionID string `json:"session_id"`

	// StartedAt is when the session was started.
	StartedAt time.Time `json:"started_at"`

	// Mode is the resolved translation mode of the run.
	Mode types.Mode `json:"mode"`

	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// RunFactory builds the pipeline of a new session. The returned cleanup
// func, which may be nil, is called once after the run ended.
type RunFactory func(id string, cfg pipeline.Config) (p *pipeline.Pipeline, cleanup func(), err error)

// run is one session.
type run struct {
	info    SessionInfo
	p       *pipeline.Pipeline
	cleanup func()
	once    sync.Once
	ended   chan struct{}
}

func (r *run) finish() {
	r.once.Do(func() {
		if r.cleanup != nil {
			r.cleanup()
		}
		close(r.ended)
	})
}

// SessionManager manages the lifecycle of translation sessions.
// Only one session can be active at a time (enforced by mutex).
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	cur    *run
	last   *run
	newRun RunFactory

	// captureClosed is set once a stopped run force-closed the source.
	captureClosed bool
	log    *slog.Logger
}

// NewSessionManager creates a SessionManager that builds runs with newRun.
func NewSessionManager(newRun RunFactory, log *slog.Logger) *SessionManager {
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{newRun: newRun, log: log}
}

// Start begins a new session with cfg. The run outlives ctx's cancellation;
// end it with Stop. A run that ends on its own (end of stream, repeated
// read errors) frees the slot for the next Start.
//
// Returns [ErrSessionActive] if a session is already active.
func (sm *SessionManager) Start(ctx context.Context, cfg pipeline.Config) (SessionInfo, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.startLocked(ctx, cfg)
}

func (sm *SessionManager) startLocked(ctx context.Context, cfg pipeline.Config) (SessionInfo, error) {
	if sm.cur != nil {
		return SessionInfo{}, fmt.Errorf("%w (id=%s)", ErrSessionActive, sm.cur.info.SessionID)
	}
	if sm.captureClosed {
		return SessionInfo{}, ErrCaptureClosed
	}

	now := time.Now().UTC()
	id := fmt.Sprintf("session-%s-%s", now.Format("20060102T150405Z"), uuid.NewString()[:8])
	p, cleanup, err := sm.newRun(id, cfg)
	if err != nil {
		return SessionInfo{}, fmt.Errorf("session: build pipeline: %w", err)
	}
	if err := p.Start(context.WithoutCancel(ctx)); err != nil {
		if cleanup != nil {
			cleanup()
		}
		return SessionInfo{}, fmt.Errorf("session: start pipeline: %w", err)
	}

	r := &run{
		info: SessionInfo{
			SessionID:      id,
			StartedAt:      now,
			Mode:           cfg.Profile().Mode,
			SourceLanguage: cfg.SourceLanguage,
			TargetLanguage: cfg.TargetLanguage,
		},
		p:       p,
		cleanup: cleanup,
		ended:   make(chan struct{}),
	}
	sm.cur, sm.last = r, r
	go sm.watch(r)

	sm.log.Info("session started",
		"session_id", id,
		"mode", r.info.Mode,
		"source_lang", cfg.SourceLanguage,
		"target_lang", cfg.TargetLanguage,
	)
	return r.info, nil
}

// watch frees the slot when r ends on its own.
func (sm *SessionManager) watch(r *run) {
	<-r.p.Done()
	sm.mu.Lock()
	ended := sm.cur == r
	if ended {
		sm.cur = nil
	}
	sm.mu.Unlock()
	r.finish()
	if ended {
		sm.log.Info("session ended", "session_id", r.info.SessionID, "stats", r.p.Stats())
	}
}

// Stop ends the active session: the pipeline is stopped and the run's
// resources are released. ctx bounds the wait for the release; the release
// itself continues in the background when ctx expires.
//
// Returns [ErrNoSession] if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.stopLocked(ctx, false)
}

// stopLocked ends the active run. With handoff the overlay and the speech
// queue are left to the run that replaces it.
func (sm *SessionManager) stopLocked(ctx context.Context, handoff bool) error {
	r := sm.cur
	if r == nil {
		return ErrNoSession
	}
	sm.cur = nil
	if handoff {
		r.p.Handoff()
	} else {
		r.p.Stop()
	}
	if r.p.SourceClosed() {
		sm.captureClosed = true
		sm.log.Error("session: capture source closed to stop the run, no further sessions can start",
			"session_id", r.info.SessionID)
	}
	go r.finish()

	sm.log.Info("session stopped", "session_id", r.info.SessionID, "stats", r.p.Stats())
	select {
	case <-r.ended:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: release resources: %w", ctx.Err())
	}
}

// Apply hands cfg to the active session. Output flags are swapped in place;
// a change of the audio path, or restart, replaces the run with a new one.
// The replacement takes over the visible overlay and the queued speech
// unless the language pair changed, in which case both are cleared.
// Without an active session Apply does nothing.
func (sm *SessionManager) Apply(ctx context.Context, cfg pipeline.Config, restart bool) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.cur == nil {
		return nil
	}
	if !restart {
		err := sm.cur.p.Reconfigure(cfg)
		if !errors.Is(err, pipeline.ErrNeedsRestart) {
			return err
		}
	}

	old := sm.cur.info.SessionID
	handoff := !pipeline.LanguagesChanged(sm.cur.p.Config(), cfg)
	if err := sm.stopLocked(context.WithoutCancel(ctx), handoff); err != nil {
		return err
	}
	info, err := sm.startLocked(ctx, cfg)
	if err != nil {
		return err
	}
	sm.log.Info("session restarted", "old_session_id", old, "session_id", info.SessionID, "handoff", handoff)
	return nil
}

// Wait blocks until the most recent session ended and released its
// resources, or until ctx is done. It returns immediately if no session was
// ever started.
func (sm *SessionManager) Wait(ctx context.Context) error {
	sm.mu.Lock()
	r := sm.last
	sm.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.ended:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.cur != nil
}

// Running implements the health Runner contract.
func (sm *SessionManager) Running() bool { return sm.IsActive() }

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.cur == nil {
		return SessionInfo{}
	}
	return sm.cur.info
}

// Pipeline returns the active session's pipeline.
// Returns nil if no session is active.
func (sm *SessionManager) Pipeline() *pipeline.Pipeline {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.cur == nil {
		return nil
	}
	return sm.cur.p
}
