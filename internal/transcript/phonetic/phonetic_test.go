package phonetic_test

import (
	"testing"

	"github.com/MrWong99/hermes/internal/transcript/phonetic"
)

var glossary = []string{"Headshot", "Respawn", "Dust Two"}

func TestMatcher_SingleWord(t *testing.T) {
	t.Parallel()
	m := phonetic.New(glossary)

	corrected, score, matched := m.Match("hedshot")
	if !matched {
		t.Fatal("Match(hedshot): matched=false, want true")
	}
	if corrected != "Headshot" {
		t.Errorf("corrected = %q, want Headshot", corrected)
	}
	if score < 0.85 {
		t.Errorf("score = %f, want >= 0.85", score)
	}
}

func TestMatcher_SplitWord(t *testing.T) {
	t.Parallel()
	m := phonetic.New(glossary)

	corrected, score, matched := m.Match("head shot")
	if !matched || corrected != "Headshot" {
		t.Fatalf("Match(head shot) = %q, %v; want Headshot", corrected, matched)
	}
	if score != 1 {
		t.Errorf("score = %f, want 1 for an exact match without spaces", score)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()
	m := phonetic.New(glossary)

	corrected, score, matched := m.Match("hello")
	if matched {
		t.Fatalf("Match(hello) matched %q", corrected)
	}
	if corrected != "hello" || score != 0 {
		t.Errorf("unmatched result = %q, %f; want input and 0", corrected, score)
	}
}

func TestMatcher_TooShort(t *testing.T) {
	t.Parallel()
	m := phonetic.New([]string{"ping"})
	if _, _, matched := m.Match("pin"); matched {
		t.Error("three-letter input should not be corrected")
	}
}

func TestMatcher_CaseInsensitive(t *testing.T) {
	t.Parallel()
	m := phonetic.New(glossary)
	corrected, _, matched := m.Match("RESPAWN")
	if !matched || corrected != "Respawn" {
		t.Errorf("Match(RESPAWN) = %q, %v; want Respawn", corrected, matched)
	}
}

func TestMatcher_EmptyGlossary(t *testing.T) {
	t.Parallel()
	m := phonetic.New(nil)
	if _, _, matched := m.Match("headshot"); matched {
		t.Error("empty glossary matched")
	}
	if got := m.Correct("nice hedshot"); got != "nice hedshot" {
		t.Errorf("Correct with empty glossary = %q", got)
	}
}

func TestMatcher_Terms(t *testing.T) {
	t.Parallel()
	m := phonetic.New([]string{"Headshot", " headshot ", "", "Respawn"})
	terms := m.Terms()
	if len(terms) != 2 || terms[0] != "Headshot" || terms[1] != "Respawn" {
		t.Errorf("Terms() = %v, want [Headshot Respawn]", terms)
	}
}

func TestCorrect(t *testing.T) {
	t.Parallel()
	m := phonetic.New(glossary)

	tests := []struct {
		in, want string
	}{
		{"nice hedshot man", "nice Headshot man"},
		{"what a head shot!", "what a Headshot!"},
		{"hello there", "hello there"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := m.Correct(tc.in); got != tc.want {
			t.Errorf("Correct(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()
	strict := phonetic.New(glossary, phonetic.WithPhoneticThreshold(0.99), phonetic.WithFuzzyThreshold(0.99))
	if _, _, matched := strict.Match("hedshot"); matched {
		t.Error("strict thresholds should reject hedshot")
	}
	short := phonetic.New([]string{"ping"}, phonetic.WithMinLength(3))
	if corrected, _, matched := short.Match("ping"); !matched || corrected != "ping" {
		t.Errorf("Match(ping) with min length 3 = %q, %v", corrected, matched)
	}
}
