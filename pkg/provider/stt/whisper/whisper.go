// Package whisper provides whisper.cpp-backed speech recognizers.
//
// [Provider] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. Each utterance chunk is wrapped in a WAV container
// and uploaded as multipart/form-data; the server answers with JSON
// {"text": "..."}.
//
// [NativeProvider] (native.go) runs the same model in-process through the
// whisper.cpp cgo bindings.
//
// Both are stateless: every chunk is transcribed independently.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	res, err := p.Recognize(ctx, chunk.PCM, stt.RecognizeConfig{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/hermes/pkg/audio"
	"github.com/MrWong99/hermes/pkg/provider/stt"
	"github.com/MrWong99/hermes/pkg/types"
)

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	inferenceEndpoint = "/inference"
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language hint sent to the server when the
// per-call config carries none. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client (e.g. to add tracing transport).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize implements stt.Provider. Empty input yields an empty result
// without contacting the server.
func (p *Provider) Recognize(ctx context.Context, pcm []byte, cfg stt.RecognizeConfig) (types.RecognitionResult, error) {
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
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = types.SampleRate
	}

	text, err := p.infer(ctx, pcm, rate, lang)
	if err != nil {
		return types.RecognitionResult{}, err
	}
	return types.RecognitionResult{Text: strings.TrimSpace(text), IsFinal: true}, nil
}

// Reset implements stt.Provider. whisper.cpp keeps no state between requests.
func (p *Provider) Reset() {}

// Capabilities implements stt.Provider.
func (p *Provider) Capabilities() stt.Capabilities {
	return stt.Capabilities{Concurrent: true}
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data. It returns the transcribed text or an error.
func (p *Provider) infer(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	wav := audio.EncodeWAV(pcm, sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+inferenceEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}
