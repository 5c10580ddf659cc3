package health

import (
	"context"
	"errors"
)

// Readier is implemented by components that report whether they can serve,
// such as the translation gateway while its model is still provisioning.
type Readier interface {
	Ready() bool
}

// Runner is implemented by components with a running state, such as the
// pipeline.
type Runner interface {
	Running() bool
}

var (
	errNotReady   = errors.New("not ready")
	errNotRunning = errors.New("not running")
)

// Ready returns a checker that fails while r is not ready.
func Ready(name string, r Readier) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !r.Ready() {
			return errNotReady
		}
		return nil
	}}
}

// Running returns a checker that fails while r is not running. The running
// component is looked up on every check so a replaced pipeline is seen.
func Running(name string, r func() Runner) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if cur := r(); cur == nil || !cur.Running() {
			return errNotRunning
		}
		return nil
	}}
}

// Ping returns an optional checker around a ping function, typically a
// database connection.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return Checker{Name: name, Check: ping, Optional: true}
}
