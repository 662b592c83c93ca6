package providers

import (
	"context"
	"strings"
)

// Operation names a logical generative endpoint.
type Operation string

// Supported operations.
const (
	OpText   Operation = "text"
	OpSpeech Operation = "speech"
	OpImage  Operation = "image"
)

// ParseOperation validates a textual operation name.
func ParseOperation(value string) (Operation, bool) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(value))); op {
	case OpText, OpSpeech, OpImage:
		return op, true
	default:
		return "", false
	}
}

// Request describes one generative call.
type Request struct {
	Operation   Operation         `json:"operation"`
	Prompt      string            `json:"prompt"`
	System      string            `json:"system,omitempty"`
	Model       string            `json:"model,omitempty"`
	Voice       string            `json:"voice,omitempty"`
	Size        string            `json:"size,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// CacheParams returns the request fields that identify an equivalent call.
func (r Request) CacheParams() map[string]any {
	params := map[string]any{
		"prompt": r.Prompt,
	}
	if r.System != "" {
		params["system"] = r.System
	}
	if r.Model != "" {
		params["model"] = r.Model
	}
	if r.Voice != "" {
		params["voice"] = r.Voice
	}
	if r.Size != "" {
		params["size"] = r.Size
	}
	if r.Temperature != 0 {
		params["temperature"] = r.Temperature
	}
	for key, value := range r.Options {
		params["opt."+key] = value
	}
	return params
}

// Response carries the provider output. Text operations fill Text; speech
// and image operations fill Data and MIMEType.
type Response struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Text     string `json:"text,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

// Provider performs a single generative call with the supplied credential.
type Provider interface {
	Kind() string
	Supports(op Operation) bool
	Generate(ctx context.Context, key string, req Request) (Response, error)
}
