package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"autovideo/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndReadsEnvKeys(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "g-one, g-two,g-one")
	t.Setenv("OPENAI_API_KEYS", "")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "autovideo", "work")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7590" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if got := strings.Join(cfg.Providers.Gemini.APIKeys, ","); got != "g-one,g-two" {
		t.Fatalf("expected deduplicated gemini keys from env, got %q", got)
	}
	if len(cfg.Providers.OpenAI.APIKeys) != 0 {
		t.Fatalf("expected no openai keys, got %v", cfg.Providers.OpenAI.APIKeys)
	}
	if len(cfg.Workflow.Stages) != len(config.DefaultStages) {
		t.Fatalf("expected default stages, got %v", cfg.Workflow.Stages)
	}
	if cfg.PauseInterval() != 500*time.Millisecond {
		t.Fatalf("unexpected pause interval %s", cfg.PauseInterval())
	}
	if cfg.CallTimeout() != 120*time.Second {
		t.Fatalf("unexpected call timeout %s", cfg.CallTimeout())
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "autovideo.toml")

	type payload struct {
		Workflow struct {
			Stages              []string `toml:"stages"`
			PausePollIntervalMS int      `toml:"pause_poll_interval_ms"`
		} `toml:"workflow"`
		Storage struct {
			Backend   string `toml:"backend"`
			RedisAddr string `toml:"redis_addr"`
		} `toml:"storage"`
		Providers struct {
			TextOrder []string `toml:"text_order"`
			OpenAI    struct {
				APIKeys      []string `toml:"api_keys"`
				MaxPerMinute int      `toml:"max_per_minute"`
			} `toml:"openai"`
		} `toml:"providers"`
	}
	custom := payload{}
	custom.Workflow.Stages = []string{" Extraction ", "title_generation"}
	custom.Workflow.PausePollIntervalMS = 50
	custom.Storage.Backend = "Redis"
	custom.Storage.RedisAddr = "127.0.0.1:6379"
	custom.Providers.TextOrder = []string{"OpenAI"}
	custom.Providers.OpenAI.APIKeys = []string{"sk-a", "sk-b"}
	custom.Providers.OpenAI.MaxPerMinute = 3
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if got := strings.Join(cfg.Workflow.Stages, ","); got != "extraction,title_generation" {
		t.Fatalf("unexpected stages %q", got)
	}
	if cfg.Storage.Backend != config.StorageRedis {
		t.Fatalf("expected redis backend, got %q", cfg.Storage.Backend)
	}
	if got := strings.Join(cfg.Providers.TextOrder, ","); got != "openai" {
		t.Fatalf("unexpected text order %q", got)
	}
	openai, ok := cfg.Provider("openai")
	if !ok {
		t.Fatal("expected openai provider lookup to succeed")
	}
	if openai.MaxPerMinute != 3 || len(openai.APIKeys) != 2 {
		t.Fatalf("unexpected openai settings %+v", openai)
	}
	if openai.TextModel == "" {
		t.Fatal("expected unspecified fields to keep defaults")
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "GEMINI_API_KEYS") {
		t.Fatalf("sample config missing env hint: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.WorkDir, "autovideo") {
		t.Fatalf("expected work dir to contain autovideo, got %q", cfg.Paths.WorkDir)
	}
	if cfg.Cache.ContentTTLs["channel"] != 86400 {
		t.Fatalf("expected channel ttl in sample, got %v", cfg.Cache.ContentTTLs)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty stages", func(c *config.Config) { c.Workflow.Stages = nil }},
		{"duplicate stage", func(c *config.Config) { c.Workflow.Stages = []string{"a", "a"} }},
		{"unknown backend", func(c *config.Config) { c.Storage.Backend = "etcd" }},
		{"redis without addr", func(c *config.Config) { c.Storage.Backend = config.StorageRedis }},
		{"non-positive ttl", func(c *config.Config) { c.Cache.DefaultTTLSeconds = 0 }},
		{"bad content ttl", func(c *config.Config) { c.Cache.ContentTTLs["video"] = -1 }},
		{"unknown provider", func(c *config.Config) { c.Providers.TextOrder = []string{"anthropic"} }},
		{"zero timeout", func(c *config.Config) { c.Providers.CallTimeoutSeconds = 0 }},
		{"bad zone", func(c *config.Config) { c.Providers.ResetZone = "Mars/Olympus" }},
		{"negative ceiling", func(c *config.Config) { c.Providers.OpenAI.MaxPerMinute = -1 }},
		{"hour below minute", func(c *config.Config) {
			c.Providers.Gemini.MaxPerMinute = 10
			c.Providers.Gemini.MaxPerHour = 5
		}},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestContentTTLsConvertToDurations(t *testing.T) {
	cfg := config.Default()
	ttls := cfg.ContentTTLs()
	if ttls["channel"] != 24*time.Hour {
		t.Fatalf("unexpected channel ttl %s", ttls["channel"])
	}
	if cfg.ResetLocation() != time.UTC {
		t.Fatalf("expected UTC reset location")
	}
}
