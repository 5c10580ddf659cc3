// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/hermes/pkg/audio"
	"github.com/MrWong99/hermes/pkg/provider/stt"
	"github.com/MrWong99/hermes/pkg/types"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once and a
// fresh whisper context is created per chunk, so concurrent calls are safe.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint

	closeOnce sync.Once
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language hint. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of CPU threads used per inference. Zero
// keeps the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model. It is safe to call more than once.
func (p *NativeProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.model != nil {
			err = p.model.Close()
		}
	})
	return err
}

// Recognize implements stt.Provider.
func (p *NativeProvider) Recognize(ctx context.Context, pcm []byte, cfg stt.RecognizeConfig) (types.RecognitionResult, error) {
	if err := ctx.Err(); err != nil {
		return types.RecognitionResult{}, fmt.Errorf("whisper: %w", err)
	}
	if len(pcm) < 2 {
		return types.RecognitionResult{IsFinal: true}, nil
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	text, err := p.infer(audio.Float32s(audio.BytesToInt16s(pcm)), lang)
	if err != nil {
		return types.RecognitionResult{}, err
	}
	return types.RecognitionResult{Text: text, IsFinal: true}, nil
}

// Reset implements stt.Provider. Each chunk gets a fresh context, so there is
// nothing to drop.
func (p *NativeProvider) Reset() {}

// Capabilities implements stt.Provider.
func (p *NativeProvider) Capabilities() stt.Capabilities {
	return stt.Capabilities{Concurrent: true}
}

// infer runs whisper.cpp on samples using a fresh context and returns the
// concatenated segment text.
func (p *NativeProvider) infer(samples []float32, language string) (string, error) {
	// Contexts are not thread-safe; the model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
