// Package segment turns a continuous stream of 16 kHz mono PCM samples into
// utterance-sized [types.AudioChunk] values using an RMS energy gate.
//
// A [Segmenter] has two states. While [Silent] it drops blocks whose energy is
// at or below the threshold. The first louder block switches it to
// [Accumulating], after which every block is buffered, including quiet ones,
// as long as the run of quiet audio stays within the mode's hangover. The
// buffer is emitted whenever it reaches the mode's chunk size. When the quiet
// run exceeds the hangover the utterance is closed: it is emitted if it reached
// the minimum viable size (half the chunk size) and discarded as noise
// otherwise.
//
// Thresholds come from three fixed sensitivity bands, so identical input at the
// same sensitivity always yields identical chunk boundaries.
package segment

import (
	"log/slog"
	"time"

	"github.com/MrWong99/hermes/pkg/audio"
	"github.com/MrWong99/hermes/pkg/types"
)

// State is the segmenter state.
type State int

const (
	// Silent means no utterance is being accumulated.
	Silent State = iota

	// Accumulating means an utterance is being buffered.
	Accumulating
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Silent:
		return "SILENT"
	case Accumulating:
		return "ACCUMULATING"
	default:
		return "UNKNOWN"
	}
}

// Energy thresholds for the three sensitivity bands.
const (
	thresholdLow    = 3000.0 // sensitivity < 33
	thresholdMedium = 1500.0 // sensitivity < 66
	thresholdHigh   = 500.0  // sensitivity >= 66

	// DefaultSensitivity is the sensitivity used when none is configured.
	DefaultSensitivity = 50
)

// ThresholdFor maps a 0–100 sensitivity to an RMS energy threshold. Higher
// sensitivity means a lower threshold.
func ThresholdFor(sensitivity int) float64 {
	switch {
	case sensitivity < 33:
		return thresholdLow
	case sensitivity < 66:
		return thresholdMedium
	default:
		return thresholdHigh
	}
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithSensitivity sets the 0–100 sensitivity dial. Default: 50.
func WithSensitivity(sensitivity int) Option {
	return func(s *Segmenter) {
		s.sensitivity = sensitivity
	}
}

// WithMode sets the tuning profile (chunk size and hangover). Default: game.
func WithMode(p types.ModeProfile) Option {
	return func(s *Segmenter) {
		s.profile = p
	}
}

// WithLogger sets the logger used for debug output. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Segmenter) {
		s.log = l
	}
}

// Segmenter is a stateful energy-gated chunker. It is owned by the capture
// goroutine and is not safe for concurrent use.
type Segmenter struct {
	sensitivity int
	profile     types.ModeProfile
	log         *slog.Logger

	threshold float64
	emitBytes int
	minBytes  int
	hangover  int // samples of quiet audio tolerated inside an utterance

	state State
	buf   []byte
	quiet int // consecutive quiet samples at the tail of buf
	seq   uint64
}

// New returns a [Segmenter] in the [Silent] state.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		sensitivity: DefaultSensitivity,
		profile:     types.ProfileFor(types.ModeGame),
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.threshold = ThresholdFor(s.sensitivity)
	s.emitBytes = s.profile.EmitBytes()
	s.minBytes = s.profile.MinBytes()
	s.hangover = int(s.profile.Delay * types.SampleRate / time.Second)
	s.buf = make([]byte, 0, s.emitBytes+s.profile.BufferSize)
	return s
}

// Feed processes one block of samples and returns the chunks it completed,
// usually none or one.
func (s *Segmenter) Feed(samples []int16) []types.AudioChunk {
	if len(samples) == 0 {
		return nil
	}
	loud := audio.RMS(samples) > s.threshold

	if s.state == Silent {
		if !loud {
			return nil
		}
		s.state = Accumulating
		s.quiet = 0
		s.buf = append(s.buf, audio.Int16sToBytes(samples)...)
		return s.emitIfFull(loud)
	}

	if !loud {
		if s.quiet+len(samples) > s.hangover {
			return s.close()
		}
		s.quiet += len(samples)
	} else {
		s.quiet = 0
	}
	s.buf = append(s.buf, audio.Int16sToBytes(samples)...)
	return s.emitIfFull(loud)
}

// Flush emits any buffered audio as a final chunk regardless of its length
// and returns the segmenter to [Silent]. It is called at end of stream and
// after read errors.
func (s *Segmenter) Flush() []types.AudioChunk {
	s.state = Silent
	s.quiet = 0
	if len(s.buf) == 0 {
		return nil
	}
	c := s.take(true)
	return []types.AudioChunk{c}
}

// Reset discards buffered audio and restarts sequence numbering.
func (s *Segmenter) Reset() {
	s.state = Silent
	s.quiet = 0
	s.buf = s.buf[:0]
	s.seq = 0
}

// State returns the current state.
func (s *Segmenter) State() State { return s.state }

// Threshold returns the RMS threshold in use.
func (s *Segmenter) Threshold() float64 { return s.threshold }

// MinBytes returns the minimum viable chunk size in bytes.
func (s *Segmenter) MinBytes() int { return s.minBytes }

// EmitBytes returns the chunk size in bytes at which audio is emitted.
func (s *Segmenter) EmitBytes() int { return s.emitBytes }

// Buffered returns the number of bytes currently accumulated.
func (s *Segmenter) Buffered() int { return len(s.buf) }

func (s *Segmenter) emitIfFull(loud bool) []types.AudioChunk {
	if len(s.buf) < s.emitBytes {
		return nil
	}
	c := s.take(false)
	if !loud {
		s.state = Silent
	}
	s.quiet = 0
	return []types.AudioChunk{c}
}

// close ends the current utterance after the hangover expired.
func (s *Segmenter) close() []types.AudioChunk {
	s.state = Silent
	s.quiet = 0
	if len(s.buf) < s.minBytes {
		s.log.Debug("segment: discarding short utterance", "bytes", len(s.buf), "min_bytes", s.minBytes)
		s.buf = s.buf[:0]
		return nil
	}
	return []types.AudioChunk{s.take(false)}
}

func (s *Segmenter) take(final bool) types.AudioChunk {
	s.seq++
	pcm := make([]byte, len(s.buf))
	copy(pcm, s.buf)
	s.buf = s.buf[:0]
	return types.AudioChunk{Seq: s.seq, PCM: pcm, Final: final}
}
