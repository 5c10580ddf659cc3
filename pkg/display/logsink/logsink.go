// Package logsink renders overlay updates as structured log lines. It is the
// display of headless deployments.
package logsink

import (
	"log/slog"

	"github.com/MrWong99/hermes/pkg/display"
)

// Compile-time interface assertion.
var _ display.Sink = (*Sink)(nil)

// Sink logs every overlay update at info level.
type Sink struct {
	log *slog.Logger
}

// New returns a Sink writing to l. A nil l uses slog.Default().
func New(l *slog.Logger) *Sink {
	if l == nil {
		l = slog.Default()
	}
	return &Sink{log: l.With("component", "overlay")}
}

// Present implements [display.Sink].
func (s *Sink) Present(original, translated string) {
	if original == "" {
		s.log.Info("translation", "translated", translated)
		return
	}
	s.log.Info("translation", "original", original, "translated", translated)
}

// Dismiss implements [display.Sink].
func (s *Sink) Dismiss() {
	s.log.Debug("overlay hidden")
}

// Configure implements [display.Sink].
func (s *Sink) Configure(st display.Settings) {
	s.log.Debug("overlay configured", "opacity", st.Opacity, "sensitivity", st.Sensitivity)
}
