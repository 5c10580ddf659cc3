package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied while the server runs are tracked; any
// other change is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SettingsChanged is true when any user setting differs.
	SettingsChanged bool

	// PipelineRestart is true when the new settings change the audio path
	// (mode, sensitivity, languages) so the running pipeline must be
	// replaced by a new run.
	PipelineRestart bool

	// LanguagesChanged is true when the language pair differs. The
	// translation cache must be cleared.
	LanguagesChanged bool

	// VoiceChanged is true when the voice preset or the speaking speed
	// differs.
	VoiceChanged bool

	// OfflineChanged is true when offline_mode was toggled.
	OfflineChanged bool

	// PhrasesChanged is true when the configured phrase tables differ.
	PhrasesChanged bool

	// GlossaryChanged is true when the recognition glossary differs.
	GlossaryChanged bool

	// RestartRequired lists the sections whose changes only take effect after
	// a process restart (providers, audio, server address, history).
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	os, ns := old.Settings, new.Settings
	d.SettingsChanged = os != ns
	d.LanguagesChanged = os.SourceLanguage != ns.SourceLanguage || os.TargetLanguage != ns.TargetLanguage
	d.PipelineRestart = d.LanguagesChanged ||
		os.Mode(old.Pipeline.App) != ns.Mode(new.Pipeline.App) ||
		os.AudioSensitivity != ns.AudioSensitivity
	d.VoiceChanged = os.VoiceType != ns.VoiceType || os.TTSSpeed != ns.TTSSpeed
	d.OfflineChanged = os.OfflineMode != ns.OfflineMode
	d.PhrasesChanged = !phrasesEqual(old.Translation.Phrases, new.Translation.Phrases) ||
		old.Translation.DisableBuiltinPhrases != new.Translation.DisableBuiltinPhrases
	d.GlossaryChanged = !slices.Equal(old.Recognition.Glossary, new.Recognition.Glossary)

	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !audioEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Translation.CacheCapacity != new.Translation.CacheCapacity {
		d.RestartRequired = append(d.RestartRequired, "translation.cache_capacity")
	}
	if old.History != new.History {
		d.RestartRequired = append(d.RestartRequired, "history")
	}

	return d
}

func phrasesEqual(a, b map[string]map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for lang, ta := range a {
		tb, ok := b[lang]
		if !ok || len(ta) != len(tb) {
			return false
		}
		for k, v := range ta {
			if w, ok := tb[k]; !ok || w != v {
				return false
			}
		}
	}
	return true
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || !comparableEqual(v, w) {
			return false
		}
	}
	return true
}

// comparableEqual compares option values. Nested maps and lists are treated
// as changed.
func comparableEqual(a, b any) bool {
	switch a.(type) {
	case string, int, int64, float64, bool, nil:
		return a == b
	}
	return false
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.TTS, b.TTS) &&
		slices.EqualFunc(a.Translator, b.Translator, entryEqual)
}

func audioEqual(a, b AudioConfig) bool {
	ad, bd := a.Discord, b.Discord
	return a.Source == b.Source && a.Path == b.Path && a.Realtime == b.Realtime &&
		a.BlockSize == b.BlockSize && a.Sink == b.Sink && a.SinkPath == b.SinkPath &&
		a.SinkRate == b.SinkRate && ad.Token == bd.Token && ad.GuildID == bd.GuildID &&
		ad.ChannelID == bd.ChannelID && slices.Equal(ad.SSRCs, bd.SSRCs)
}
