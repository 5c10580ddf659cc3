// Package fanout routes delivered translations to their outputs.
//
// [Decide] is the pure decision: given the recognized text, its translation
// and the current output flags it says what the overlay shows and whether a
// speech task is created. A [Dispatcher] applies decisions to the overlay
// controller, the speech queue and an optional history recorder.
package fanout

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/hermes/pkg/types"
)

// Flags are the output switches a decision depends on.
type Flags struct {
	ShowOriginal bool
	TTSEnabled   bool
}

// OverlayPayload is the text pair handed to the overlay.
type OverlayPayload struct {
	// Original is empty when the original text is hidden.
	Original   string
	Translated string
}

// Decision is the outcome of [Decide]. A nil field means that output gets
// nothing.
type Decision struct {
	Overlay *OverlayPayload
	Speech  *types.SpeechTask
}

// Empty reports whether the decision produces no output at all.
func (d Decision) Empty() bool {
	return d.Overlay == nil && d.Speech == nil
}

// Decide returns what to present for one translated utterance. A blank
// translation produces nothing. Each speech task gets a fresh request ID.
func Decide(original, translated string, f Flags) Decision {
	if strings.TrimSpace(translated) == "" {
		return Decision{}
	}
	d := Decision{Overlay: &OverlayPayload{Translated: translated}}
	if f.ShowOriginal {
		d.Overlay.Original = original
	}
	if f.TTSEnabled {
		d.Speech = &types.SpeechTask{Text: translated, RequestID: uuid.NewString()}
	}
	return d
}

// Overlay shows a text pair. The overlay controller implements it.
type Overlay interface {
	Show(original, translated string)
}

// Speech accepts speech tasks without blocking. The speech queue implements
// it.
type Speech interface {
	Enqueue(task types.SpeechTask)
}

// Recorder keeps a log of delivered translations. Implementations must not
// block the caller for long.
type Recorder interface {
	Record(ctx context.Context, r types.TranslationResult) error
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithRecorder appends every delivered translation to r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// Dispatcher applies decisions to the outputs. Either output may be nil, in
// which case that part of a decision is ignored.
type Dispatcher struct {
	overlay  Overlay
	speech   Speech
	recorder Recorder
	log      *slog.Logger
}

// NewDispatcher returns a Dispatcher writing to overlay and speech.
func NewDispatcher(overlay Overlay, speech Speech, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		overlay: overlay,
		speech:  speech,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch decides on r with flags f and applies the decision. It returns
// the decision so callers can count delivered results.
func (d *Dispatcher) Dispatch(ctx context.Context, r types.TranslationResult, f Flags) Decision {
	dec := Decide(r.Original, r.Translated, f)
	if dec.Empty() {
		return dec
	}
	if dec.Overlay != nil && d.overlay != nil {
		d.overlay.Show(dec.Overlay.Original, dec.Overlay.Translated)
	}
	if dec.Speech != nil && d.speech != nil {
		d.speech.Enqueue(*dec.Speech)
	}
	if d.recorder != nil {
		if err := d.recorder.Record(ctx, r); err != nil {
			d.log.Warn("fanout: failed to record translation", "seq", r.Seq, "err", err)
		}
	}
	return dec
}
