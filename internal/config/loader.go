package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/hermes/internal/translate"
	"github.com/MrWong99/hermes/pkg/provider/tts"
	"github.com/MrWong99/hermes/pkg/types"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"deepgram", "whisper", "whisper-native"},
	"translator": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"elevenlabs", "coqui"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default],
// normalizes and validates the result. An empty document yields the
// defaults. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes is LoadFromReader over an in-memory document.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Normalize canonicalizes language codes and replaces an unsupported source
// language with the default one.
func (c *Config) Normalize() {
	s := &c.Settings
	s.TargetLanguage = strings.ToLower(strings.TrimSpace(s.TargetLanguage))
	src := strings.ToLower(strings.TrimSpace(s.SourceLanguage))
	if !translate.IsSupportedSource(src) {
		slog.Warn("settings.source_language is not supported, falling back",
			"source_language", s.SourceLanguage,
			"fallback", translate.DefaultSourceLanguage,
		)
		src = translate.SourceLanguage(src)
	}
	s.SourceLanguage = src
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, tr := range cfg.Providers.Translator {
		if tr.Name == "" {
			errs = append(errs, fmt.Errorf("providers.translator[%d].name is required", i))
			continue
		}
		validateProviderName("translator", tr.Name)
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; no speech will be recognized")
	}
	if len(cfg.Providers.Translator) == 0 && !cfg.Settings.OfflineMode {
		slog.Warn("providers.translator is empty; only phrase-table entries will be translated")
	}
	if cfg.Settings.TTSEnabled && cfg.Providers.TTS.Name == "" {
		slog.Warn("settings.tts_enabled is set but providers.tts is not configured; translations will not be spoken")
	}

	errs = append(errs, validateAudio(&cfg.Audio)...)

	// Pipeline
	p := cfg.Pipeline
	if p.MaxInFlight < 0 || p.MaxBacklog < 0 || p.MaxReadErrors < 0 {
		errs = append(errs, errors.New("pipeline limits must not be negative"))
	}

	errs = append(errs, validateSettings(&cfg.Settings)...)

	// Translation, recognition, overlay, history
	if cfg.Translation.CacheCapacity <= 0 {
		errs = append(errs, fmt.Errorf("translation.cache_capacity %d must be positive", cfg.Translation.CacheCapacity))
	}
	for lang, table := range cfg.Translation.Phrases {
		for phrase := range table {
			if translate.Normalize(phrase) == "" {
				errs = append(errs, fmt.Errorf("translation.phrases.%s has a blank phrase", lang))
			}
		}
	}
	if cfg.Recognition.MinChars < 0 {
		errs = append(errs, fmt.Errorf("recognition.min_chars %d must not be negative", cfg.Recognition.MinChars))
	}
	if cfg.Overlay.HideAfterMs <= 0 {
		errs = append(errs, fmt.Errorf("overlay.hide_after_ms %d must be positive", cfg.Overlay.HideAfterMs))
	}
	if cfg.History.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("history.queue_size %d must not be negative", cfg.History.QueueSize))
	}

	return errors.Join(errs...)
}

func validateAudio(a *AudioConfig) []error {
	var errs []error
	if !a.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: stdin, file, websocket, discord", a.Source))
	}
	if a.Source == SourceFile && a.Path == "" {
		errs = append(errs, errors.New("audio.path is required when audio.source is file"))
	}
	if a.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must not be negative", a.BlockSize))
	}
	if !a.Sink.IsValid() {
		errs = append(errs, fmt.Errorf("audio.sink %q is invalid; valid values: none, file, websocket, discord", a.Sink))
	}
	if a.Sink == SinkFile {
		if a.SinkPath == "" {
			errs = append(errs, errors.New("audio.sink_path is required when audio.sink is file"))
		}
		if a.SinkRate <= 0 {
			errs = append(errs, fmt.Errorf("audio.sink_rate %d must be positive", a.SinkRate))
		}
	}
	if a.Source == SourceDiscord || a.Sink == SinkDiscord {
		d := a.Discord
		if d.Token == "" || d.GuildID == "" || d.ChannelID == "" {
			errs = append(errs, errors.New("audio.discord requires token, guild_id and channel_id"))
		}
	}
	if a.Sink == SinkDiscord && a.Source != SourceDiscord {
		slog.Warn("audio.sink is discord but audio.source is not; the bot joins the channel only to speak")
	}
	return errs
}

func validateSettings(s *Settings) []error {
	var errs []error
	if s.TargetLanguage == "" {
		errs = append(errs, errors.New("settings.target_language is required"))
	}
	if s.SourceLanguage != "" && s.SourceLanguage == s.TargetLanguage {
		slog.Warn("settings.source_language equals target_language; translations will echo the input",
			"language", s.SourceLanguage)
	}
	for _, r := range []struct {
		name string
		v    int
	}{
		{"overlay_opacity", s.OverlayOpacity},
		{"tts_speed", s.TTSSpeed},
		{"audio_sensitivity", s.AudioSensitivity},
	} {
		if r.v < 0 || r.v > 100 {
			errs = append(errs, fmt.Errorf("settings.%s %d is out of range [0, 100]", r.name, r.v))
		}
	}
	if _, err := tts.Preset(s.VoiceType); err != nil {
		errs = append(errs, fmt.Errorf("settings.voice_type %q is invalid; valid values: %s",
			s.VoiceType, strings.Join(tts.PresetNames(), ", ")))
	}
	if _, ok := types.LookupMode(s.TranslationMode); !ok && s.TranslationMode != types.ModeAuto {
		names := make([]string, 0, len(types.Modes())+1)
		for _, m := range types.Modes() {
			names = append(names, string(m))
		}
		names = append(names, string(types.ModeAuto))
		errs = append(errs, fmt.Errorf("settings.translation_mode %q is invalid; valid values: %s",
			s.TranslationMode, strings.Join(names, ", ")))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
