package testsupport

import (
	"path/filepath"
	"testing"

	"autovideo/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t   testing.TB
	cfg *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Providers are left without keys and pause polling is shortened so control
// tests settle quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Workflow.PausePollIntervalMS = 10
	cfgVal.Workflow.MinFreeDiskMB = 0
	cfgVal.Providers.Gemini.APIKeys = nil
	cfgVal.Providers.OpenAI.APIKeys = nil
	cfgVal.Providers.TransientBackoffMS = 1

	builder := &configBuilder{
		t:   t,
		cfg: &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithProviderKeys sets the API keys for a provider on the test config.
func WithProviderKeys(provider string, keys ...string) ConfigOption {
	return func(b *configBuilder) {
		switch provider {
		case config.ProviderGemini:
			b.cfg.Providers.Gemini.APIKeys = keys
		case config.ProviderOpenAI:
			b.cfg.Providers.OpenAI.APIKeys = keys
		default:
			b.t.Fatalf("unknown provider %q", provider)
		}
	}
}

// WithStages overrides the configured stage order.
func WithStages(stages ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.Stages = stages
	}
}

// WithStorageBackend selects the kvstore backend.
func WithStorageBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Storage.Backend = backend
	}
}
