// Package gemini adapts Google's Gemini API to the providers.Provider
// contract. Only text generation is supported.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"autovideo/internal/providers"
	"autovideo/internal/services"
)

// Kind is the provider name used in configuration and logs.
const Kind = "gemini"

// Config holds adapter settings.
type Config struct {
	Model string
}

// Provider calls Gemini through google.golang.org/genai. A client is created
// lazily per credential and reused.
type Provider struct {
	model string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// New constructs the adapter.
func New(cfg Config) *Provider {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Provider{model: model, clients: make(map[string]*genai.Client)}
}

// Kind implements providers.Provider.
func (p *Provider) Kind() string { return Kind }

// Supports implements providers.Provider.
func (p *Provider) Supports(op providers.Operation) bool {
	return op == providers.OpText
}

func (p *Provider) client(ctx context.Context, key string) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[key]; ok {
		return client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, Kind, "client", "create gemini client", err)
	}
	p.clients[key] = client
	return client, nil
}

// Generate implements providers.Provider.
func (p *Provider) Generate(ctx context.Context, key string, req providers.Request) (providers.Response, error) {
	if !p.Supports(req.Operation) {
		return providers.Response{}, services.Wrap(services.ErrValidation, Kind, "generate", fmt.Sprintf("operation %q not supported", req.Operation), nil)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return providers.Response{}, services.Wrap(services.ErrValidation, Kind, "generate", "empty prompt", nil)
	}
	client, err := p.client(ctx, key)
	if err != nil {
		return providers.Response{}, err
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	var genCfg *genai.GenerateContentConfig
	if req.System != "" || req.Temperature > 0 {
		genCfg = &genai.GenerateContentConfig{}
		if req.System != "" {
			genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
		}
		if req.Temperature > 0 {
			temperature := float32(req.Temperature)
			genCfg.Temperature = &temperature
		}
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		return providers.Response{}, classifyError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return providers.Response{}, services.Wrap(services.ErrTransient, Kind, "generate", "no candidates returned", nil)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return providers.Response{}, services.Wrap(services.ErrValidation, Kind, "generate", "content blocked by safety filters", nil)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return providers.Response{}, services.Wrap(services.ErrTransient, Kind, "generate", "empty response text", nil)
	}
	return providers.Response{Provider: Kind, Model: model, Text: text}, nil
}

// classifyError tags SDK errors with services markers. API errors carry the
// HTTP status; anything else falls back to the message.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	class := providers.ClassifyMessage(err.Error())
	var apiErr genai.APIError
	if class != providers.ClassQuota && class != providers.ClassAuth &&
		errors.As(err, &apiErr) && providers.StatusClass(apiErr.Code) != providers.ClassFatal {
		return providers.WrapStatus(Kind, "generate", apiErr.Code, err)
	}
	switch class {
	case providers.ClassQuota:
		return services.Wrap(services.ErrQuota, Kind, "generate", "quota exhausted", err)
	case providers.ClassRateLimited:
		return services.Wrap(services.ErrRateLimited, Kind, "generate", "rate limited", err)
	case providers.ClassAuth:
		return services.Wrap(services.ErrAuth, Kind, "generate", "api key rejected", err)
	case providers.ClassValidation:
		return services.Wrap(services.ErrValidation, Kind, "generate", "request rejected", err)
	case providers.ClassTransient:
		return services.Wrap(services.ErrTransient, Kind, "generate", "temporary failure", err)
	default:
		return fmt.Errorf("gemini generate: %w", err)
	}
}
