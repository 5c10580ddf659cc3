// Package coqui provides a TTS provider backed by a local Coqui server. It
// implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with query
//     parameters; the voice catalogue comes from GET /details.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body; the voice catalogue comes from
//     GET /studio_speakers.
//
// Both servers answer one HTTP call per utterance with a WAV file. Long
// translations are split into sentences and synthesised with a small
// lookahead so the first sentence can play while the next is rendered.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("ru"))
//	audio, err := p.SynthesizeStream(ctx, "хорошая игра", voice)
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/hermes/pkg/audio"
	"github.com/MrWong99/hermes/pkg/provider/tts"
	"github.com/MrWong99/hermes/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// sentenceLookahead is how many sentence requests may be in flight at once.
	sentenceLookahead = 2

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server. Hermes speaks
// the translation, so this is normally the target language.
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

// WithAPIMode selects the server API. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputSampleRate sets the rate PCM is resampled to before it is
// emitted. Defaults to the 16 kHz pipeline rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// Provider implements tts.Provider backed by a locally-running Coqui server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a Provider that targets the TTS server at serverURL (e.g.,
// "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		outputRate: types.SampleRate,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.outputRate }

// xttsBody is the JSON body sent to POST /tts_to_audio/.
type xttsBody struct {
	Text       string  `json:"text"`
	SpeakerWav string  `json:"speaker_wav"`
	Language   string  `json:"language"`
	Speed      float64 `json:"speed,omitempty"`
}

// studioSpeakersResponse is the map[name]any returned by GET /studio_speakers.
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is the JSON body returned by GET /details. Speakers is nil
// for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// audioResult carries one sentence's PCM or the error that ended it.
type audioResult struct {
	pcm []byte
	err error
}

// SynthesizeStream splits text into sentences and synthesises them with up
// to sentenceLookahead requests in flight. PCM is emitted in sentence order.
// The first failing sentence ends the stream.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	// XTTS always needs a speaker; standard single-speaker models do not.
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil, errors.New("coqui: text must not be empty")
	}

	audioCh := make(chan []byte, 16)
	pending := make(chan chan audioResult, sentenceLookahead)
	stop := make(chan struct{})

	// Dispatcher: one request per sentence, futures queued in order.
	go func() {
		defer close(pending)
		for _, s := range sentences {
			fut := make(chan audioResult, 1)
			select {
			case pending <- fut:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
			go func() {
				pcm, err := p.synthesize(ctx, s, voice)
				fut <- audioResult{pcm: pcm, err: err}
			}()
		}
	}()

	// Collector: drain futures in order.
	go func() {
		defer close(audioCh)
		defer close(stop)
		for fut := range pending {
			var res audioResult
			select {
			case res = <-fut:
			case <-ctx.Done():
				return
			}
			if res.err != nil {
				return
			}
			for pcm := res.pcm; len(pcm) > 0; {
				end := min(pcmChunkSize, len(pcm))
				select {
				case audioCh <- pcm[:end]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[end:]
			}
		}
	}()

	return audioCh, nil
}

// synthesize renders one sentence and returns PCM at the output rate.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, sentence, voice)
	} else {
		req, err = p.standardRequest(ctx, sentence, voice)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	info, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	samples := audio.BytesToInt16s(info.Data(wav))
	samples = audio.Downmix(samples, info.Channels)
	samples = audio.Resample(samples, info.SampleRate, p.outputRate)
	return audio.Int16sToBytes(samples), nil
}

func (p *Provider) xttsRequest(ctx context.Context, sentence string, voice tts.VoiceProfile) (*http.Request, error) {
	data, err := json.Marshal(xttsBody{
		Text:       sentence,
		SpeakerWav: voice.ID,
		Language:   p.language,
		Speed:      voice.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *Provider) standardRequest(ctx context.Context, sentence string, voice tts.VoiceProfile) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", sentence)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	if voice.Speed > 0 {
		params.Set("speed", strconv.FormatFloat(voice.Speed, 'f', 2, 64))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}

// ListVoices retrieves the voices the server offers. In APIModeXTTS these are
// the studio speakers; in APIModeStandard one profile per speaker of a
// multi-speaker model, or a single profile named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var raw studioSpeakersResponse
		if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)
		return profiles(names, map[string]string{"type": "studio"}), nil
	}

	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) > 0 {
		speakers := append([]string(nil), details.Speakers...)
		sort.Strings(speakers)
		return profiles(speakers, map[string]string{"type": "speaker", "model_name": details.ModelName}), nil
	}
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return profiles([]string{name}, map[string]string{"type": "single-speaker", "model_name": name}), nil
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

func profiles(names []string, meta map[string]string) []tts.VoiceProfile {
	out := make([]tts.VoiceProfile, 0, len(names))
	for _, n := range names {
		m := make(map[string]string, len(meta))
		for k, v := range meta {
			m[k] = v
		}
		out = append(out, tts.VoiceProfile{ID: n, Name: n, Provider: "coqui", Metadata: m})
	}
	return out
}

// splitSentences cuts text after every '.', '!' or '?' that ends the text or
// is followed by whitespace, and after every full-width terminator. Empty
// pieces are dropped. "3.14" and "e.g.x" stay whole.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		switch r {
		case '.', '!', '?':
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
		case '。', '！', '？':
		default:
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
