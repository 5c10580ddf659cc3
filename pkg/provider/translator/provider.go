// Package translator defines the Provider interface for text translation
// backends.
//
// A translator turns one recognized utterance from a source language into a
// target language. Backends are typically LLM chat endpoints (OpenAI, any
// provider reachable through any-llm-go) prompted to act as a translator; a
// test double lives in translator/mock.
//
// Some backends need a one-off preparation step before they can translate
// (downloading or warming a model, verifying that the configured model
// exists). Such backends additionally implement [Provisioner]; callers treat
// an unprovisioned backend as unavailable and pass text through untranslated.
package translator

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate returns text translated from sourceLang to targetLang. Both
	// languages are ISO 639-1 codes (e.g., "en", "ru").
	//
	// Returns an error if the backend is unreachable, returns no usable
	// translation, or ctx is cancelled. Implementations must not retry.
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Provisioner is implemented by backends that must be prepared before use.
type Provisioner interface {
	// Ready reports whether Provision completed successfully.
	Ready() bool

	// Provision prepares the backend. It is safe to call repeatedly; once it
	// succeeded further calls return nil immediately.
	Provision(ctx context.Context) error
}

// IsReady reports whether p can translate now. Providers that do not
// implement [Provisioner] are always ready.
func IsReady(p Provider) bool {
	if pv, ok := p.(Provisioner); ok {
		return pv.Ready()
	}
	return true
}

var languageNames = map[string]string{
	"en": "English",
	"ru": "Russian",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"pt": "Portuguese",
	"pl": "Polish",
	"uk": "Ukrainian",
	"tr": "Turkish",
}

// LanguageName returns the English name of an ISO 639-1 code, or the code
// itself when it is unknown.
func LanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// SystemPrompt returns the instruction given to chat-model backends.
func SystemPrompt(sourceLang, targetLang string) string {
	return fmt.Sprintf(
		"You translate short in-game voice chat from %s to %s. "+
			"Reply with the translation only. Keep gaming slang and names. "+
			"Do not add quotes, notes or explanations.",
		LanguageName(sourceLang), LanguageName(targetLang))
}

// CleanOutput trims whitespace and one pair of surrounding quotes that chat
// models tend to add.
func CleanOutput(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"«", "»"}, {"“", "”"}, {"'", "'"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}
