package pipeline

import (
	"github.com/MrWong99/hermes/internal/fanout"
	"github.com/MrWong99/hermes/internal/segment"
	"github.com/MrWong99/hermes/pkg/types"
)

// Config is the per-run configuration of a [Pipeline]. The fields that shape
// the audio path (mode, sensitivity, languages) are fixed for a run; the
// output flags may be swapped with [Pipeline.Reconfigure].
type Config struct {
	SourceLanguage string
	TargetLanguage string

	// Mode selects the segmenter profile. Unknown modes, including
	// [types.ModeAuto], fall back to the game profile; resolve auto with
	// [types.ModeForApp] before building the config.
	Mode types.Mode

	ShowOriginal bool
	TTSEnabled   bool

	// Sensitivity is the 0–100 voice activity dial.
	Sensitivity int

	// Opacity is the 0–100 overlay opacity.
	Opacity int
}

// DefaultConfig returns the configuration of a fresh install.
func DefaultConfig() Config {
	return Config{
		SourceLanguage: "en",
		TargetLanguage: "ru",
		Mode:           types.ModeGame,
		ShowOriginal:   true,
		TTSEnabled:     true,
		Sensitivity:    segment.DefaultSensitivity,
		Opacity:        80,
	}
}

// Profile returns the segmenter profile of c.Mode.
func (c Config) Profile() types.ModeProfile {
	return types.ProfileFor(c.Mode)
}

// Flags returns the fan-out flags of c.
func (c Config) Flags() fanout.Flags {
	return fanout.Flags{ShowOriginal: c.ShowOriginal, TTSEnabled: c.TTSEnabled}
}

// NeedsRestart reports whether moving from old to new changes the audio path
// and therefore needs a new run rather than [Pipeline.Reconfigure].
func NeedsRestart(old, new Config) bool {
	return old.Profile().Mode != new.Profile().Mode ||
		old.Sensitivity != new.Sensitivity ||
		old.SourceLanguage != new.SourceLanguage ||
		old.TargetLanguage != new.TargetLanguage
}

// LanguagesChanged reports whether the language pair differs between old and
// new. The translation cache must be cleared when it does.
func LanguagesChanged(old, new Config) bool {
	return old.SourceLanguage != new.SourceLanguage || old.TargetLanguage != new.TargetLanguage
}
