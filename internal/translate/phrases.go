package translate

import "strings"

// gamingRU is the built-in shortcut table for Russian. Keys are normalized.
var gamingRU = map[string]string{
	"gg":       "хорошая игра",
	"wp":       "хорошо сыграно",
	"noob":     "новичок",
	"pro":      "профессионал",
	"afk":      "отошел от клавиатуры",
	"lol":      "ржу в голос",
	"omg":      "о боже мой",
	"wtf":      "что за ерунда",
	"ez":       "легко",
	"rekt":     "разгромлен",
	"rush":     "штурм",
	"camp":     "засада",
	"spawn":    "точка появления",
	"respawn":  "перерождение",
	"headshot": "выстрел в голову",
	"combo":    "комбо",
	"buff":     "усиление",
	"nerf":     "ослабление",
	"lag":      "задержка",
	"ping":     "пинг",
}

// BuiltinPhrases returns a copy of the built-in phrase tables keyed by target
// language.
func BuiltinPhrases() map[string]map[string]string {
	ru := make(map[string]string, len(gamingRU))
	for k, v := range gamingRU {
		ru[k] = v
	}
	return map[string]map[string]string{"ru": ru}
}

// Normalize returns the cache and phrase-table key for text: surrounding
// whitespace removed and lower-cased.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Source languages the translation backends are known to handle. Anything
// else falls back to [DefaultSourceLanguage].
var supportedSources = map[string]bool{
	"en": true, "ja": true, "ko": true, "zh": true, "de": true, "fr": true, "es": true,
}

// Language defaults.
const (
	DefaultSourceLanguage = "en"
	DefaultTargetLanguage = "ru"
)

// SourceLanguage returns code if it is a supported source language and
// [DefaultSourceLanguage] otherwise.
func SourceLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if supportedSources[code] {
		return code
	}
	return DefaultSourceLanguage
}

// IsSupportedSource reports whether code is a supported source language.
func IsSupportedSource(code string) bool {
	return supportedSources[strings.ToLower(strings.TrimSpace(code))]
}
