package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/hermes/pkg/provider/stt"
	sttmock "github.com/MrWong99/hermes/pkg/provider/stt/mock"
	"github.com/MrWong99/hermes/pkg/types"
)

func TestSTTFallback_Recognize_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Result: types.RecognitionResult{Text: "gg", IsFinal: true}}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Recognize(context.Background(), []byte{1, 2}, stt.RecognizeConfig{Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "gg" {
		t.Errorf("Text = %q, want gg", res.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Errorf("calls = %d/%d, want 1/0", primary.CallCount(), secondary.CallCount())
	}
}

func TestSTTFallback_Recognize_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Result: types.RecognitionResult{Text: "push mid"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Recognize(context.Background(), []byte{1, 2}, stt.RecognizeConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "push mid" {
		t.Errorf("Text = %q, want push mid", res.Text)
	}
	if secondary.RecognizeCalls[0].Cfg != (stt.RecognizeConfig{}) {
		t.Errorf("config not forwarded: %+v", secondary.RecognizeCalls[0].Cfg)
	}
}

func TestSTTFallback_Recognize_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewSTTFallback(&sttmock.Provider{Err: errTest}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &sttmock.Provider{Err: errTest})

	if _, err := fb.Recognize(context.Background(), nil, stt.RecognizeConfig{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_ResetAndCapabilities(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{CapabilitiesResult: stt.Capabilities{Concurrent: true}}
	secondary := &sttmock.Provider{CapabilitiesResult: stt.Capabilities{Concurrent: false, Stateful: true}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	if caps := fb.Capabilities(); !caps.Concurrent || caps.Stateful {
		t.Errorf("single backend caps = %+v", caps)
	}
	fb.AddFallback("secondary", secondary)
	if caps := fb.Capabilities(); caps.Concurrent || !caps.Stateful {
		t.Errorf("combined caps = %+v, want serialized and stateful", caps)
	}

	fb.Reset()
	if primary.ResetCalls != 1 || secondary.ResetCalls != 1 {
		t.Errorf("reset calls = %d/%d, want 1/1", primary.ResetCalls, secondary.ResetCalls)
	}
}
