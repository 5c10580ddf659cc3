// Package deepgram provides a Deepgram-backed STT provider. Each utterance is
// sent over a short-lived connection to the Deepgram live WebSocket API and
// the final results are joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hermes/pkg/provider/stt"
	"github.com/MrWong99/hermes/pkg/types"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
	defaultTimeout   = 30 * time.Second

	// frameBytes is the size of each binary audio message.
	frameBytes = 8192
)

var closeStream = []byte(`{"type":"CloseStream"}`)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code (e.g., "en", "de-DE").
// A language in the per-call config takes precedence.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords boosts recognition of names and terms, e.g. a game glossary.
func WithKeywords(words ...string) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, words...)
	}
}

// WithEndpoint overrides the WebSocket endpoint.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithTimeout bounds one recognition round trip. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	keywords []string
	endpoint string
	timeout  time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Recognize streams pcm to Deepgram, asks it to flush, and joins every final
// result received before the server closes the connection.
func (p *Provider) Recognize(ctx context.Context, pcm []byte, cfg stt.RecognizeConfig) (types.RecognitionResult, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return types.RecognitionResult{}, fmt.Errorf("deepgram: build URL: %w", err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return types.RecognitionResult{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	for off := 0; off < len(pcm); off += frameBytes {
		end := min(off+frameBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return types.RecognitionResult{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, closeStream); err != nil {
		return types.RecognitionResult{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return types.RecognitionResult{}, fmt.Errorf("deepgram: read: %w", err)
		}
		if text, ok := parseFinal(msg); ok && text != "" {
			parts = append(parts, text)
		}
	}
	return types.RecognitionResult{Text: strings.Join(parts, " "), IsFinal: true}, nil
}

// Reset is a no-op: every call opens a fresh stream.
func (p *Provider) Reset() {}

// Capabilities reports a stateless engine that may be called concurrently.
func (p *Provider) Capabilities() stt.Capabilities {
	return stt.Capabilities{Concurrent: true}
}

// buildURL constructs the endpoint URL for one utterance.
func (p *Provider) buildURL(cfg stt.RecognizeConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = types.SampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	for _, kw := range p.keywords {
		q.Add("keywords", kw)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseFinal returns the best transcript of a final Results message.
// Interim results, metadata and malformed messages report false.
func parseFinal(data []byte) (string, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return "", false
	}
	return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), true
}
