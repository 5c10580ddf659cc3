// Package overlay owns the lifecycle of the on-screen translation overlay.
//
// A [Controller] runs a single goroutine that holds the [types.OverlayState].
// Every public method is marshaled onto that goroutine and applied in call
// order, so the shown text and the auto-hide timer never tear. The overlay
// hides itself a fixed time after the most recent Show.
package overlay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/hermes/internal/observe"
	"github.com/MrWong99/hermes/pkg/display"
	"github.com/MrWong99/hermes/pkg/types"
)

// Defaults.
const (
	DefaultHideAfter   = 5 * time.Second
	DefaultOpacity     = 80
	DefaultSensitivity = 50
)

// Clock abstracts time for the auto-hide timer.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f on its own goroutine after d. The returned stop func
	// cancels the call if it has not started.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Option configures a [Controller].
type Option func(*Controller)

// WithHideAfter sets how long the overlay stays visible after the last
// Show. Default: 5s.
func WithHideAfter(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.hideAfter = d
		}
	}
}

// WithClock replaces the wall clock, e.g. with a fake in tests.
func WithClock(clk Clock) Option {
	return func(c *Controller) {
		c.clock = clk
	}
}

// WithMetrics counts Show calls.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

type op struct {
	fn   func()
	done chan struct{}
}

// Controller drives a [display.Sink]. It is safe for concurrent use; after
// Close every method is a no-op and State returns the final state.
type Controller struct {
	sink      display.Sink
	hideAfter time.Duration
	clock     Clock
	metrics   *observe.Metrics
	log       *slog.Logger

	ops       chan op
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the run goroutine.
	state     types.OverlayState
	gen       uint64
	stopTimer func() bool
}

// New starts a Controller presenting on sink. The overlay starts hidden.
func New(sink display.Sink, opts ...Option) *Controller {
	c := &Controller{
		sink:      sink,
		hideAfter: DefaultHideAfter,
		clock:     realClock{},
		log:       slog.Default(),
		ops:       make(chan op),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		state: types.OverlayState{
			Opacity:     DefaultOpacity,
			Sensitivity: DefaultSensitivity,
		},
	}
	for _, o := range opts {
		o(c)
	}
	go c.run()
	return c
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.cancelTimer()
			return
		case o := <-c.ops:
			o.fn()
			close(o.done)
		}
	}
}

// do runs fn on the controller goroutine and waits for it. It reports false
// when the controller is closed.
func (c *Controller) do(fn func()) bool {
	o := op{fn: fn, done: make(chan struct{})}
	select {
	case c.ops <- o:
		<-o.done
		return true
	case <-c.done:
		return false
	}
}

// Show displays the pair and restarts the auto-hide timer from now.
func (c *Controller) Show(original, translated string) {
	c.do(func() {
		c.cancelTimer()
		c.gen++
		gen := c.gen

		c.state.Original = original
		c.state.Translated = translated
		c.state.Visible = true
		c.state.ExpiresAt = c.clock.Now().Add(c.hideAfter)
		c.stopTimer = c.clock.AfterFunc(c.hideAfter, func() { c.expire(gen) })

		c.sink.Present(original, translated)
		if c.metrics != nil {
			c.metrics.OverlayUpdates.Add(context.Background(), 1)
		}
	})
}

// expire hides the overlay if no Show happened since the timer of gen was
// started.
func (c *Controller) expire(gen uint64) {
	c.do(func() {
		if gen != c.gen || !c.state.Visible {
			return
		}
		c.stopTimer = nil
		c.hideLocked()
		c.log.Debug("overlay: auto-hidden")
	})
}

// Hide cancels the timer and hides the overlay. It returns after the overlay
// is hidden.
func (c *Controller) Hide() {
	c.do(func() {
		c.cancelTimer()
		c.gen++
		if c.state.Visible {
			c.hideLocked()
		}
	})
}

// Configure applies new opacity and sensitivity values, clamped to 0..100.
// The auto-hide timer is not affected.
func (c *Controller) Configure(opacity, sensitivity int) {
	s := display.Settings{Opacity: opacity, Sensitivity: sensitivity}.Clamp()
	c.do(func() {
		c.state.Opacity = s.Opacity
		c.state.Sensitivity = s.Sensitivity
		c.sink.Configure(s)
	})
}

// State returns a snapshot of the overlay state.
func (c *Controller) State() types.OverlayState {
	var st types.OverlayState
	if !c.do(func() { st = c.state }) {
		<-c.done
		return c.state
	}
	return st
}

// Close hides the overlay and stops the controller goroutine. It is
// idempotent.
func (c *Controller) Close() {
	c.Hide()
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
}

func (c *Controller) hideLocked() {
	c.state.Visible = false
	c.state.Original = ""
	c.state.Translated = ""
	c.state.ExpiresAt = time.Time{}
	c.sink.Dismiss()
}

func (c *Controller) cancelTimer() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}
