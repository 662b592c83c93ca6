package services_test

import (
	"context"
	"testing"

	"autovideo/internal/services"
)

func TestContextAnnotations(t *testing.T) {
	ctx := services.WithRequestID(
		services.WithProvider(
			services.WithStage(
				services.WithRunID(context.Background(), "run-42"),
				"speech_synthesis"),
			"openai"),
		"req-123")

	lookups := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"run id", services.RunIDFromContext, "run-42"},
		{"stage", services.StageFromContext, "speech_synthesis"},
		{"provider", services.ProviderFromContext, "openai"},
		{"request id", services.RequestIDFromContext, "req-123"},
	}
	for _, tc := range lookups {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.get(ctx)
			if !ok || got != tc.want {
				t.Fatalf("got %q (ok=%v), want %q", got, ok, tc.want)
			}
			if _, ok := tc.get(context.Background()); ok {
				t.Fatal("bare context should carry nothing")
			}
		})
	}
}

func TestBlankAnnotationKeepsOuterValue(t *testing.T) {
	ctx := services.WithStage(context.Background(), "image_generation")
	ctx = services.WithStage(ctx, "")
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "image_generation" {
		t.Fatalf("expected outer stage to survive, got %q %v", stage, ok)
	}
}
