package fanout

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/hermes/pkg/types"
)

func TestDecide(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		original    string
		translated  string
		flags       Flags
		wantOverlay *OverlayPayload
		wantSpeech  bool
	}{
		{
			name:        "show original and speak",
			original:    "good game",
			translated:  "хорошая игра",
			flags:       Flags{ShowOriginal: true, TTSEnabled: true},
			wantOverlay: &OverlayPayload{Original: "good game", Translated: "хорошая игра"},
			wantSpeech:  true,
		},
		{
			name:        "original hidden",
			original:    "good game",
			translated:  "хорошая игра",
			flags:       Flags{TTSEnabled: true},
			wantOverlay: &OverlayPayload{Translated: "хорошая игра"},
			wantSpeech:  true,
		},
		{
			name:        "tts disabled",
			original:    "good game",
			translated:  "хорошая игра",
			flags:       Flags{ShowOriginal: true},
			wantOverlay: &OverlayPayload{Original: "good game", Translated: "хорошая игра"},
		},
		{
			name:       "blank translation is a sink",
			original:   "good game",
			translated: "   ",
			flags:      Flags{ShowOriginal: true, TTSEnabled: true},
		},
		{
			name:  "empty translation is a sink",
			flags: Flags{ShowOriginal: true, TTSEnabled: true},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := Decide(tc.original, tc.translated, tc.flags)
			switch {
			case tc.wantOverlay == nil && d.Overlay != nil:
				t.Errorf("Overlay = %+v, want nil", *d.Overlay)
			case tc.wantOverlay != nil && d.Overlay == nil:
				t.Errorf("Overlay = nil, want %+v", *tc.wantOverlay)
			case tc.wantOverlay != nil && *d.Overlay != *tc.wantOverlay:
				t.Errorf("Overlay = %+v, want %+v", *d.Overlay, *tc.wantOverlay)
			}
			if got := d.Speech != nil; got != tc.wantSpeech {
				t.Fatalf("speech task = %v, want %v", got, tc.wantSpeech)
			}
			if d.Speech != nil {
				if d.Speech.Text != tc.translated {
					t.Errorf("speech text = %q, want %q", d.Speech.Text, tc.translated)
				}
				if d.Speech.RequestID == "" {
					t.Error("speech task has no request ID")
				}
			}
			if got := d.Empty(); got != (tc.wantOverlay == nil && !tc.wantSpeech) {
				t.Errorf("Empty() = %v", got)
			}
		})
	}
}

func TestDecide_FreshRequestIDs(t *testing.T) {
	t.Parallel()
	a := Decide("gg", "хорошая игра", Flags{TTSEnabled: true})
	b := Decide("gg", "хорошая игра", Flags{TTSEnabled: true})
	if a.Speech.RequestID == b.Speech.RequestID {
		t.Errorf("request IDs repeat: %q", a.Speech.RequestID)
	}
}

// ---- Dispatcher ----

type fakeOverlay struct{ shown [][2]string }

func (f *fakeOverlay) Show(original, translated string) {
	f.shown = append(f.shown, [2]string{original, translated})
}

type fakeSpeech struct{ tasks []types.SpeechTask }

func (f *fakeSpeech) Enqueue(task types.SpeechTask) { f.tasks = append(f.tasks, task) }

type fakeRecorder struct {
	results []types.TranslationResult
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, r types.TranslationResult) error {
	f.results = append(f.results, r)
	return f.err
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	ov, sp, rec := &fakeOverlay{}, &fakeSpeech{}, &fakeRecorder{}
	d := NewDispatcher(ov, sp, WithRecorder(rec))

	res := types.TranslationResult{Seq: 1, Original: "gg", Translated: "хорошая игра"}
	dec := d.Dispatch(context.Background(), res, Flags{ShowOriginal: false, TTSEnabled: true})
	if dec.Empty() {
		t.Fatal("decision is empty")
	}
	if len(ov.shown) != 1 || ov.shown[0] != [2]string{"", "хорошая игра"} {
		t.Errorf("overlay = %v, want one update without original", ov.shown)
	}
	if len(sp.tasks) != 1 || sp.tasks[0].Text != "хорошая игра" {
		t.Errorf("speech = %v, want one task", sp.tasks)
	}
	if len(rec.results) != 1 || rec.results[0].Seq != 1 {
		t.Errorf("recorded = %v, want seq 1", rec.results)
	}
}

func TestDispatch_BlankTranslationTouchesNothing(t *testing.T) {
	t.Parallel()
	ov, sp, rec := &fakeOverlay{}, &fakeSpeech{}, &fakeRecorder{}
	d := NewDispatcher(ov, sp, WithRecorder(rec))

	d.Dispatch(context.Background(), types.TranslationResult{Seq: 2}, Flags{ShowOriginal: true, TTSEnabled: true})
	if len(ov.shown) != 0 || len(sp.tasks) != 0 || len(rec.results) != 0 {
		t.Errorf("outputs touched: overlay %v, speech %v, recorder %v", ov.shown, sp.tasks, rec.results)
	}
}

func TestDispatch_NilOutputsAndRecorderError(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{err: errors.New("db down")}
	d := NewDispatcher(nil, nil, WithRecorder(rec))

	dec := d.Dispatch(context.Background(), types.TranslationResult{Seq: 3, Translated: "привет"}, Flags{TTSEnabled: true})
	if dec.Speech == nil {
		t.Error("decision lost its speech task")
	}
	if len(rec.results) != 1 {
		t.Errorf("recorded = %d, want 1", len(rec.results))
	}
}
