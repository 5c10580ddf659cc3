package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	audiomock "github.com/MrWong99/hermes/pkg/audio/mock"
	"github.com/MrWong99/hermes/pkg/provider/tts"
	ttsmock "github.com/MrWong99/hermes/pkg/provider/tts/mock"
)

func TestStreamSynthesizer_Speak(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2}, {3, 4}}, Rate: 22050}
	sink := &audiomock.Sink{}
	voice, _ := tts.Preset(tts.VoiceAthenaFemale)
	s := NewStreamSynthesizer(p, sink, voice.WithSpeed(50))

	if err := s.Speak(context.Background(), "хорошая игра"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got := sink.Bytes(); got != 4 {
		t.Errorf("sink bytes = %d, want 4", got)
	}
	for _, r := range sink.Rates {
		if r != 22050 {
			t.Errorf("sink rate = %d, want 22050", r)
		}
	}
	calls := p.SynthesizeStreamCalls
	if len(calls) != 1 || calls[0].Text != "хорошая игра" || calls[0].Voice.Name != tts.VoiceAthenaFemale {
		t.Errorf("calls = %+v", calls)
	}
}

func TestStreamSynthesizer_Stop(t *testing.T) {
	t.Parallel()
	hold := make(chan struct{})
	defer close(hold)
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2}}, Hold: hold}
	sink := &audiomock.Sink{}
	s := NewStreamSynthesizer(p, sink, tts.VoiceProfile{Name: tts.DefaultVoice})

	errc := make(chan error, 1)
	go func() { errc <- s.Speak(context.Background(), "long sentence") }()

	waitFor(t, "first chunk", func() bool { return sink.Bytes() == 2 })
	s.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Speak error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after Stop")
	}
}

func TestStreamSynthesizer_Errors(t *testing.T) {
	t.Parallel()

	p := &ttsmock.Provider{SynthesizeErr: errors.New("quota")}
	s := NewStreamSynthesizer(p, &audiomock.Sink{}, tts.VoiceProfile{})
	if err := s.Speak(context.Background(), "hi"); err == nil {
		t.Error("expected provider error")
	}

	p = &ttsmock.Provider{SynthesizeChunks: [][]byte{{1, 2}, {3, 4}}}
	sink := &audiomock.Sink{WriteErr: errors.New("device gone")}
	s = NewStreamSynthesizer(p, sink, tts.VoiceProfile{})
	err := s.Speak(context.Background(), "hi")
	if err == nil || errors.Is(err, context.Canceled) {
		t.Errorf("Speak error = %v, want sink error", err)
	}
}

func TestStreamSynthesizer_SetVoice(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{}
	s := NewStreamSynthesizer(p, &audiomock.Sink{}, tts.VoiceProfile{Name: tts.VoiceHermesMale})
	s.SetVoice(tts.VoiceProfile{Name: tts.VoiceCyborg})
	if s.Voice().Name != tts.VoiceCyborg {
		t.Fatalf("Voice() = %q, want cyborg", s.Voice().Name)
	}
	if err := s.Speak(context.Background(), "hi"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got := p.SynthesizeStreamCalls[0].Voice.Name; got != tts.VoiceCyborg {
		t.Errorf("voice = %q, want cyborg", got)
	}
}

func TestQueue_WithStreamSynthesizer(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{SynthesizeChunks: [][]byte{{0, 0}}}
	sink := &audiomock.Sink{}
	q := NewQueue(NewStreamSynthesizer(p, sink, tts.VoiceProfile{}), WithFocus(NewExclusiveFocus()))
	defer q.Close()

	q.Enqueue(task("one"))
	q.Enqueue(task("two"))
	waitFor(t, "both spoken", func() bool { return sink.Bytes() == 4 && q.State() == Idle && q.Len() == 0 })

	if got := p.Texts(); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("texts = %v, want [one two]", got)
	}
}
