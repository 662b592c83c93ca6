package services

import "context"

type ctxKey uint8

const (
	runIDKey ctxKey = iota + 1
	stageKey
	providerKey
	requestIDKey
)

// withString stores value under key; empty values leave ctx untouched so an
// outer annotation is never masked by a blank one.
func withString(ctx context.Context, key ctxKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func lookupString(ctx context.Context, key ctxKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, _ := ctx.Value(key).(string)
	return value, value != ""
}

// WithRunID tags ctx with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	return withString(ctx, runIDKey, id)
}

func RunIDFromContext(ctx context.Context) (string, bool) { return lookupString(ctx, runIDKey) }

// WithStage tags ctx with the executing stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, stageKey, stage)
}

func StageFromContext(ctx context.Context) (string, bool) { return lookupString(ctx, stageKey) }

// WithProvider tags ctx with the provider a gateway call is routed to.
func WithProvider(ctx context.Context, provider string) context.Context {
	return withString(ctx, providerKey, provider)
}

func ProviderFromContext(ctx context.Context) (string, bool) { return lookupString(ctx, providerKey) }

// WithRequestID tags ctx with a correlation id, usually the API request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	return lookupString(ctx, requestIDKey)
}
