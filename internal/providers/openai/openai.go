// Package openai adapts the OpenAI API (chat completions, speech and image
// generation) to the providers.Provider contract.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"autovideo/internal/providers"
	"autovideo/internal/services"
)

// Kind is the provider name used in configuration and logs.
const Kind = "openai"

// Config holds adapter settings.
type Config struct {
	BaseURL     string
	TextModel   string
	SpeechModel string
	ImageModel  string
	Voice       string
}

// Provider calls OpenAI through github.com/sashabaranov/go-openai.
type Provider struct {
	cfg Config
}

// New constructs the adapter, filling unset models with defaults.
func New(cfg Config) *Provider {
	if cfg.TextModel == "" {
		cfg.TextModel = openai.GPT4oMini
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = string(openai.TTSModel1)
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openai.CreateImageModelDallE3
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}
	return &Provider{cfg: cfg}
}

// Kind implements providers.Provider.
func (p *Provider) Kind() string { return Kind }

// Supports implements providers.Provider.
func (p *Provider) Supports(op providers.Operation) bool {
	switch op {
	case providers.OpText, providers.OpSpeech, providers.OpImage:
		return true
	default:
		return false
	}
}

func (p *Provider) client(key string) *openai.Client {
	clientCfg := openai.DefaultConfig(key)
	if p.cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(p.cfg.BaseURL, "/")
	}
	return openai.NewClientWithConfig(clientCfg)
}

// Generate implements providers.Provider.
func (p *Provider) Generate(ctx context.Context, key string, req providers.Request) (providers.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return providers.Response{}, services.Wrap(services.ErrValidation, Kind, "generate", "empty prompt", nil)
	}
	client := p.client(key)
	switch req.Operation {
	case providers.OpText:
		return p.chat(ctx, client, req)
	case providers.OpSpeech:
		return p.speech(ctx, client, req)
	case providers.OpImage:
		return p.image(ctx, client, req)
	default:
		return providers.Response{}, services.Wrap(services.ErrValidation, Kind, "generate", fmt.Sprintf("operation %q not supported", req.Operation), nil)
	}
}

func (p *Provider) chat(ctx context.Context, client *openai.Client, req providers.Request) (providers.Response, error) {
	model := firstNonEmpty(req.Model, p.cfg.TextModel)
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return providers.Response{}, classifyError("chat", err)
	}
	if len(resp.Choices) == 0 {
		return providers.Response{}, services.Wrap(services.ErrTransient, Kind, "chat", "no choices returned", nil)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return providers.Response{}, services.Wrap(services.ErrTransient, Kind, "chat", "empty completion", nil)
	}
	return providers.Response{Provider: Kind, Model: model, Text: text}, nil
}

func (p *Provider) speech(ctx context.Context, client *openai.Client, req providers.Request) (providers.Response, error) {
	model := firstNonEmpty(req.Model, p.cfg.SpeechModel)
	raw, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          req.Prompt,
		Voice:          openai.SpeechVoice(firstNonEmpty(req.Voice, p.cfg.Voice)),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return providers.Response{}, classifyError("speech", err)
	}
	defer raw.Close()
	data, err := io.ReadAll(raw)
	if err != nil {
		return providers.Response{}, services.Wrap(services.ErrTransient, Kind, "speech", "read audio stream", err)
	}
	if len(data) == 0 {
		return providers.Response{}, services.Wrap(services.ErrTransient, Kind, "speech", "empty audio", nil)
	}
	return providers.Response{Provider: Kind, Model: model, Data: data, MIMEType: "audio/mpeg"}, nil
}

func (p *Provider) image(ctx context.Context, client *openai.Client, req providers.Request) (providers.Response, error) {
	model := firstNonEmpty(req.Model, p.cfg.ImageModel)
	resp, err := client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              1,
		Size:           firstNonEmpty(req.Size, openai.CreateImageSize1792x1024),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return providers.Response{}, classifyError("image", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return providers.Response{}, services.Wrap(services.ErrTransient, Kind, "image", "no image returned", nil)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return providers.Response{}, services.Wrap(services.ErrTransient, Kind, "image", "decode image payload", err)
	}
	return providers.Response{Provider: Kind, Model: model, Data: data, MIMEType: "image/png"}, nil
}

// classifyError tags SDK errors with services markers using the HTTP status
// reported by the API.
func classifyError(operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "insufficient_quota" {
			return services.Wrap(services.ErrQuota, Kind, operation, "quota exhausted", err)
		}
		return providers.WrapStatus(Kind, operation, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return providers.WrapStatus(Kind, operation, reqErr.HTTPStatusCode, err)
	}
	if providers.ClassifyMessage(err.Error()) == providers.ClassTransient {
		return services.Wrap(services.ErrTransient, Kind, operation, "temporary failure", err)
	}
	return fmt.Errorf("openai %s: %w", operation, err)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
