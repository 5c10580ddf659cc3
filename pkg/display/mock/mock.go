// Package mock provides a recording test double for display.Sink.
package mock

import (
	"sync"

	"github.com/MrWong99/hermes/pkg/display"
)

// Ensure Sink implements display.Sink at compile time.
var _ display.Sink = (*Sink)(nil)

// Event kinds recorded by Sink.
const (
	EventPresent   = "present"
	EventDismiss   = "dismiss"
	EventConfigure = "configure"
)

// PresentCall records a single Present invocation.
type PresentCall struct {
	Original   string
	Translated string
}

// Sink records every call. It is safe for concurrent use.
type Sink struct {
	mu sync.Mutex

	// PresentCalls records Present calls in order.
	PresentCalls []PresentCall

	// DismissCalls counts Dismiss calls.
	DismissCalls int

	// ConfigureCalls records Configure calls in order.
	ConfigureCalls []display.Settings

	events []string
}

// Present implements display.Sink.
func (s *Sink) Present(original, translated string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PresentCalls = append(s.PresentCalls, PresentCall{Original: original, Translated: translated})
	s.events = append(s.events, EventPresent)
}

// Dismiss implements display.Sink.
func (s *Sink) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DismissCalls++
	s.events = append(s.events, EventDismiss)
}

// Configure implements display.Sink.
func (s *Sink) Configure(st display.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConfigureCalls = append(s.ConfigureCalls, st)
	s.events = append(s.events, EventConfigure)
}

// Events returns the kinds of all calls in order.
func (s *Sink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// Presents returns a copy of the recorded Present calls.
func (s *Sink) Presents() []PresentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PresentCall, len(s.PresentCalls))
	copy(out, s.PresentCalls)
	return out
}

// LastPresent returns the most recent Present call, or the zero value.
func (s *Sink) LastPresent() PresentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.PresentCalls) == 0 {
		return PresentCall{}
	}
	return s.PresentCalls[len(s.PresentCalls)-1]
}

// Dismissals returns the number of Dismiss calls.
func (s *Sink) Dismissals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DismissCalls
}

// Reset clears all recorded calls.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PresentCalls = nil
	s.DismissCalls = 0
	s.ConfigureCalls = nil
	s.events = nil
}
