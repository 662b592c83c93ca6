package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"autovideo/internal/providers"
	"autovideo/internal/services"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/v1"})
}

func TestChatCompletion(t *testing.T) {
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "  A Title  "}, "finish_reason": "stop"}},
		})
	})

	resp, err := p.Generate(context.Background(), "sk-test", providers.Request{Operation: providers.OpText, Prompt: "name it", System: "be brief"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "A Title" || resp.Provider != Kind {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestErrorsCarryMarkers(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		marker error
	}{
		{"quota", http.StatusTooManyRequests, "insufficient_quota", services.ErrQuota},
		{"rate limit", http.StatusTooManyRequests, "rate_limit_exceeded", services.ErrRateLimited},
		{"bad key", http.StatusUnauthorized, "invalid_api_key", services.ErrAuth},
		{"bad request", http.StatusBadRequest, "invalid_request_error", services.ErrValidation},
		{"server", http.StatusServiceUnavailable, "server_error", services.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": "failure " + tt.code, "type": tt.code, "code": tt.code},
				})
			})
			_, err := p.Generate(context.Background(), "sk-test", providers.Request{Operation: providers.OpText, Prompt: "x"})
			if !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v, got %v", tt.marker, err)
			}
		})
	}
}

func TestSpeechAndImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/audio/speech":
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("ID3audio"))
		case "/v1/images/generations":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"created": 1,
				"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
			})
		default:
			http.NotFound(w, r)
		}
	})

	audio, err := p.Generate(context.Background(), "k", providers.Request{Operation: providers.OpSpeech, Prompt: "hello"})
	if err != nil {
		t.Fatalf("speech: %v", err)
	}
	if string(audio.Data) != "ID3audio" || audio.MIMEType != "audio/mpeg" {
		t.Fatalf("unexpected audio response %+v", audio)
	}

	image, err := p.Generate(context.Background(), "k", providers.Request{Operation: providers.OpImage, Prompt: "a lighthouse"})
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	if string(image.Data) != string(png) {
		t.Fatalf("unexpected image bytes %v", image.Data)
	}
}
