// Package openai provides a translator backed by the OpenAI chat completions
// API or any server that speaks it (llama.cpp, vLLM, LM Studio, ...).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/hermes/pkg/provider/translator"
)

// Compile-time interface assertions.
var (
	_ translator.Provider    = (*Provider)(nil)
	_ translator.Provisioner = (*Provider)(nil)
)

// Provider implements translator.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	ready  atomic.Bool
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	skipCheck    bool
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithoutModelCheck marks the provider ready immediately instead of
// verifying the model on Provision. Use it for servers without a models
// endpoint.
func WithoutModelCheck() Option {
	return func(c *config) {
		c.skipCheck = true
	}
}

// New constructs a new OpenAI translator. The provider is not ready until
// [Provider.Provision] has confirmed that the model exists, unless
// [WithoutModelCheck] is given.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	// A failed translation falls back to the original text; retrying would
	// only delay the pipeline.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	p := &Provider{client: oai.NewClient(reqOpts...), model: model}
	p.ready.Store(cfg.skipCheck)
	return p, nil
}

// Translate implements translator.Provider.
func (p *Provider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("openai: text must not be empty")
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(text, sourceLang, targetLang))
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices in response")
	}
	out := translator.CleanOutput(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("openai: empty translation")
	}
	return out, nil
}

// Ready implements translator.Provisioner.
func (p *Provider) Ready() bool { return p.ready.Load() }

// Provision implements translator.Provisioner by looking up the configured
// model.
func (p *Provider) Provision(ctx context.Context) error {
	if p.ready.Load() {
		return nil
	}
	m, err := p.client.Models.Get(ctx, p.model)
	if err != nil {
		return fmt.Errorf("openai: provision model %q: %w", p.model, err)
	}
	if m.ID != "" && m.ID != p.model {
		return fmt.Errorf("openai: provision: server returned model %q, want %q", m.ID, p.model)
	}
	p.ready.Store(true)
	return nil
}

// buildParams builds a deterministic two-message chat request.
func (p *Provider) buildParams(text, sourceLang, targetLang string) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(translator.SystemPrompt(sourceLang, targetLang)),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.0),
	}
}
