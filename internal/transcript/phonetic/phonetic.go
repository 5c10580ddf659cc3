// Package phonetic corrects recognizer output against a glossary of known
// terms (player names, map callouts, gaming slang) using Double Metaphone
// phonetic encoding combined with Jaro-Winkler string similarity.
//
// Matching proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     every word of the input and, once at construction, for every glossary
//     term. A term sharing any code with the input is a phonetic candidate.
//
//  2. Jaro-Winkler ranking: the candidate with the highest similarity
//     (case-insensitive, compared as written and with spaces removed) wins if
//     it reaches the phonetic threshold. Terms without a shared code must
//     reach the higher fuzzy threshold instead.
//
// Inputs whose length differs from a term's by more than a third are never
// compared with it, which keeps short words from swallowing their
// neighbours.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultMinLength         = 4
	defaultMaxWords          = 3

	minLengthRatio = 0.75
	maxLengthRatio = 4.0 / 3.0
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic code is shared. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinLength sets the minimum number of letters an input span must have
// to be considered for correction. Default: 4.
func WithMinLength(n int) Option {
	return func(m *Matcher) {
		m.minLength = n
	}
}

// WithMaxWords sets the longest run of input words compared with a term.
// Default: 3.
func WithMaxWords(n int) Option {
	return func(m *Matcher) {
		m.maxWords = n
	}
}

type term struct {
	text   string
	lower  string
	concat string
	codes  map[string]struct{}
}

// Matcher snaps misrecognized words to glossary terms. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLength         int
	maxWords          int
	terms             []term
}

// New returns a [Matcher] for glossary. Blank and duplicate terms are
// ignored.
func New(glossary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLength:         defaultMinLength,
		maxWords:          defaultMaxWords,
	}
	for _, o := range opts {
		o(m)
	}
	if m.maxWords < 1 {
		m.maxWords = 1
	}
	seen := make(map[string]bool, len(glossary))
	for _, g := range glossary {
		g = strings.TrimSpace(g)
		lower := strings.ToLower(g)
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		tokens := strings.Fields(lower)
		m.terms = append(m.terms, term{
			text:   g,
			lower:  lower,
			concat: strings.Join(tokens, ""),
			codes:  codesForTokens(tokens),
		})
	}
	return m
}

// Terms returns the glossary in insertion order.
func (m *Matcher) Terms() []string {
	out := make([]string, len(m.terms))
	for i, t := range m.terms {
		out[i] = t.text
	}
	return out
}

// Match finds the glossary term most similar to phrase, which may be a single
// word or several. When matched is false, corrected equals phrase and score
// is 0.
func (m *Matcher) Match(phrase string) (corrected string, score float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	tokens := strings.Fields(lower)
	concat := strings.Join(tokens, "")
	if utf8.RuneCountInString(concat) < m.minLength {
		return phrase, 0, false
	}
	inputCodes := codesForTokens(tokens)

	var (
		best         *term
		bestScore    float64
		bestPhonetic bool
	)
	for i := range m.terms {
		t := &m.terms[i]
		if !comparableLength(concat, t.concat) {
			continue
		}
		s := similarity(lower, concat, t)
		phonetic := codesOverlap(inputCodes, t.codes)
		switch {
		case phonetic && s >= m.phoneticThreshold:
			if !bestPhonetic || s > bestScore {
				best, bestScore, bestPhonetic = t, s, true
			}
		case !phonetic && !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore:
			best, bestScore = t, s
		}
	}
	if best == nil {
		return phrase, 0, false
	}
	return best.text, bestScore, true
}

// Correct replaces every span of text that matches a glossary term with the
// term. Spans of up to MaxWords words are tried at each position and the best
// scoring one wins; ties go to the shorter span. A multi-word span yields to a
// better match starting at the next word. Trailing punctuation of a replaced
// span is kept.
func (m *Matcher) Correct(text string) string {
	if len(m.terms) == 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}

	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		cur := m.bestSpan(words, i)
		if cur.n > 1 {
			if next := m.bestSpan(words, i+1); next.n > 0 && next.score > cur.score {
				cur = span{}
			}
		}
		if cur.n == 0 {
			out = append(out, words[i])
			i++
			continue
		}
		last := words[i+cur.n-1]
		suffix := last[len(strings.TrimRightFunc(last, unicode.IsPunct)):]
		out = append(out, cur.term+suffix)
		i += cur.n
	}
	return strings.Join(out, " ")
}

type span struct {
	n     int
	score float64
	term  string
}

// bestSpan returns the best matching span starting at words[i]. n is 0 when
// nothing matches.
func (m *Matcher) bestSpan(words []string, i int) span {
	var best span
	for n := 1; n <= m.maxWords && i+n <= len(words); n++ {
		core := strings.TrimRightFunc(words[i+n-1], unicode.IsPunct)
		if core == "" {
			break
		}
		phrase := strings.Join(append(append([]string{}, words[i:i+n-1]...), core), " ")
		if corrected, s, ok := m.Match(phrase); ok && s > best.score {
			best = span{n: n, score: s, term: corrected}
		}
	}
	return best
}

func comparableLength(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if lb == 0 {
		return false
	}
	r := float64(la) / float64(lb)
	return r >= minLengthRatio && r <= maxLengthRatio
}

// similarity is the higher Jaro-Winkler score of the input as spoken and with
// spaces removed.
func similarity(lower, concat string, t *term) float64 {
	score := matchr.JaroWinkler(lower, t.lower, false)
	if concat != lower || t.concat != t.lower {
		if s := matchr.JaroWinkler(concat, t.concat, false); s > score {
			score = s
		}
	}
	return score
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
