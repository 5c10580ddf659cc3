// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/hermes/pkg/provider/tts"
	"github.com/coder/websocket"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"

	// ElevenLabs accepts voice_settings.speed in this range only.
	minSpeed = 0.7
	maxSpeed = 1.2
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format. Only raw PCM formats
// ("pcm_16000", "pcm_24000", ...) are supported.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultVoice sets the voice ID used when a profile carries none. The
// built-in presets have no ElevenLabs ID, so this is normally required.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) {
		p.defaultVoice = id
	}
}

// WithBaseURL overrides the API base URL. The WebSocket endpoint is derived
// from it by swapping the scheme.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	defaultVoice string
	baseURL      string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.SampleRate() == 0 {
		return nil, fmt.Errorf("elevenlabs: unsupported output format %q", p.outputFormat)
	}
	return p, nil
}

// SampleRate implements tts.Provider. It is derived from the output format
// and is zero for non-PCM formats.
func (p *Provider) SampleRate() int {
	rate, ok := strings.CutPrefix(p.outputFormat, "pcm_")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rate)
	if err != nil {
		return 0
	}
	return n
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SynthesizeStream opens a WebSocket to ElevenLabs, sends text followed by
// the end-of-input marker, and returns a channel emitting raw PCM chunks.
//
// The returned channel is closed after the final audio message, when the
// server closes the socket, or when ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voiceID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// Begin-of-input authenticates and configures the stream; the text must
	// be a single space. The utterance follows, then "" ends the input.
	msgs := []textMessage{
		{Text: " ", VoiceSettings: settingsFor(voice), XiAPIKey: p.apiKey},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			conn.Close(websocket.StatusInternalError, "marshal")
			return nil, fmt.Errorf("elevenlabs: marshal message: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return nil, fmt.Errorf("elevenlabs: send text: %w", err)
		}
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Error != "" {
				return
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err != nil {
					continue
				}
				select {
				case audioCh <- pcm:
				case <-ctx.Done():
					return
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return audioCh, nil
}

// settingsFor builds voice_settings for voice. Speed is clamped to the range
// ElevenLabs accepts; an unset speed is omitted.
func settingsFor(voice tts.VoiceProfile) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.Speed > 0 {
		vs.Speed = max(minSpeed, min(maxSpeed, voice.Speed))
	}
	return vs
}

// streamURL constructs the WebSocket URL for a given voice.
func (p *Provider) streamURL(voiceID string) string {
	base := p.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", base, url.PathEscape(voiceID), q.Encode())
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return toProfiles(vr), nil
}

func toProfiles(vr voicesResponse) []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles
}
