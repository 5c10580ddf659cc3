package tts

import "fmt"

// VoiceProfile describes the voice used for speaking translations.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Pitch is a pitch multiplier (1.0 = unchanged).
	Pitch float64

	// Rate is the voice's own speaking-rate multiplier (1.0 = unchanged).
	Rate float64

	// Speed is the effective speaking rate sent to the backend. It is the
	// product of the user's speed setting and Rate; see [SpeedFor].
	Speed float64

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// Built-in voice preset names.
const (
	VoiceHermesMale   = "hermes_male"
	VoiceAthenaFemale = "athena_female"
	VoiceCyborg       = "cyborg"
)

// DefaultVoice is the preset used when none is configured.
const DefaultVoice = VoiceHermesMale

var presets = map[string]VoiceProfile{
	VoiceHermesMale:   {Name: VoiceHermesMale, Pitch: 0.9, Rate: 1.0},
	VoiceAthenaFemale: {Name: VoiceAthenaFemale, Pitch: 1.2, Rate: 0.95},
	VoiceCyborg:       {Name: VoiceCyborg, Pitch: 0.7, Rate: 1.1},
}

// Preset returns the built-in voice preset with the given name.
func Preset(name string) (VoiceProfile, error) {
	p, ok := presets[name]
	if !ok {
		return VoiceProfile{}, fmt.Errorf("tts: unknown voice preset %q", name)
	}
	return p, nil
}

// PresetNames lists the built-in presets in a stable order.
func PresetNames() []string {
	return []string{VoiceHermesMale, VoiceAthenaFemale, VoiceCyborg}
}

// SpeedFor maps the user's 0..100 speed setting onto a 0.5x..2.0x rate and
// applies the voice's own rate multiplier. Out-of-range settings are clamped.
func SpeedFor(setting int, voice VoiceProfile) float64 {
	setting = max(0, min(100, setting))
	base := 0.5 + float64(setting)/100*1.5
	rate := voice.Rate
	if rate <= 0 {
		rate = 1
	}
	return base * rate
}

// WithSpeed returns a copy of voice with Speed set from the user's setting.
func (v VoiceProfile) WithSpeed(setting int) VoiceProfile {
	v.Speed = SpeedFor(setting, v)
	return v
}
