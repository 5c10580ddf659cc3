package display_test

import (
	"testing"

	"github.com/MrWong99/hermes/pkg/display"
	"github.com/MrWong99/hermes/pkg/display/mock"
)

func TestSettings_Clamp(t *testing.T) {
	t.Parallel()
	got := display.Settings{Opacity: 120, Sensitivity: -5}.Clamp()
	if got.Opacity != 100 || got.Sensitivity != 0 {
		t.Errorf("Clamp() = %+v, want {100 0}", got)
	}
}

func TestMulti(t *testing.T) {
	t.Parallel()
	a, b := &mock.Sink{}, &mock.Sink{}
	m := display.Multi{a, b}

	m.Configure(display.Settings{Opacity: 80})
	m.Present("gg", "хорошая игра")
	m.Dismiss()

	for i, s := range []*mock.Sink{a, b} {
		if got := s.Events(); len(got) != 3 {
			t.Errorf("sink %d events = %v, want 3", i, got)
		}
		if p := s.LastPresent(); p.Translated != "хорошая игра" {
			t.Errorf("sink %d last present = %+v", i, p)
		}
	}
}
