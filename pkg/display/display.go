// Package display defines where translated text is shown.
//
// A [Sink] is a fire-and-forget surface such as a browser overlay or a log.
// The overlay controller is the only caller; it decides when text appears and
// when it is dismissed, and sinks just render what they are told.
package display

// Settings are the visual parameters of a display.
type Settings struct {
	// Opacity of the overlay in percent, 0..100.
	Opacity int

	// Sensitivity is the audio sensitivity in percent, 0..100. Overlays may
	// render it as a level indicator.
	Sensitivity int
}

// Clamp returns s with both values limited to 0..100.
func (s Settings) Clamp() Settings {
	s.Opacity = max(0, min(100, s.Opacity))
	s.Sensitivity = max(0, min(100, s.Sensitivity))
	return s
}

// Sink renders overlay updates. Implementations must not block for long and
// must be safe for concurrent use.
type Sink interface {
	// Present shows a text pair. original may be empty.
	Present(original, translated string)

	// Dismiss hides any shown text.
	Dismiss()

	// Configure applies new visual settings immediately.
	Configure(s Settings)
}

// Multi forwards every call to each of its sinks in order.
type Multi []Sink

// Compile-time interface assertion.
var _ Sink = Multi(nil)

// Present implements [Sink].
func (m Multi) Present(original, translated string) {
	for _, s := range m {
		s.Present(original, translated)
	}
}

// Dismiss implements [Sink].
func (m Multi) Dismiss() {
	for _, s := range m {
		s.Dismiss()
	}
}

// Configure implements [Sink].
func (m Multi) Configure(st Settings) {
	for _, s := range m {
		s.Configure(st)
	}
}
