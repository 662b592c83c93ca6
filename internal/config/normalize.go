package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeStorage()
	c.normalizeCache()
	c.normalizeProviders()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		c.Paths.APIToken = strings.TrimSpace(os.Getenv("AUTOVIDEO_API_TOKEN"))
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	stages := make([]string, 0, len(c.Workflow.Stages))
	for _, name := range c.Workflow.Stages {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			stages = append(stages, name)
		}
	}
	if len(stages) == 0 {
		stages = append(stages, DefaultStages...)
	}
	c.Workflow.Stages = stages
	if c.Workflow.PausePollIntervalMS <= 0 {
		c.Workflow.PausePollIntervalMS = defaultPausePollIntervalMS
	}
	if c.Workflow.StatusLogLimit <= 0 {
		c.Workflow.StatusLogLimit = defaultStatusLogLimit
	}
}

func (c *Config) normalizeStorage() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFile
	}
	c.Storage.RedisAddr = strings.TrimSpace(c.Storage.RedisAddr)
	if c.Storage.RedisAddr == "" {
		if value, ok := os.LookupEnv("AUTOVIDEO_REDIS_ADDR"); ok {
			c.Storage.RedisAddr = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Storage.RedisPrefix) == "" {
		c.Storage.RedisPrefix = defaultRedisPrefix
	}
}

func (c *Config) normalizeCache() {
	c.Cache.Namespace = strings.TrimSpace(c.Cache.Namespace)
	if c.Cache.Namespace == "" {
		c.Cache.Namespace = defaultCacheNamespace
	}
	if len(c.Cache.ContentTTLs) > 0 {
		cleaned := make(map[string]int, len(c.Cache.ContentTTLs))
		for pattern, seconds := range c.Cache.ContentTTLs {
			if pattern = strings.ToLower(strings.TrimSpace(pattern)); pattern != "" {
				cleaned[pattern] = seconds
			}
		}
		c.Cache.ContentTTLs = cleaned
	}
}

func (c *Config) normalizeProviders() {
	c.Providers.ResetZone = strings.TrimSpace(c.Providers.ResetZone)
	if c.Providers.ResetZone == "" {
		c.Providers.ResetZone = defaultResetZone
	}
	c.Providers.TextOrder = normalizeOrder(c.Providers.TextOrder)
	c.Providers.SpeechOrder = normalizeOrder(c.Providers.SpeechOrder)
	c.Providers.ImageOrder = normalizeOrder(c.Providers.ImageOrder)
	normalizeProvider(&c.Providers.Gemini, "GEMINI_API_KEYS")
	normalizeProvider(&c.Providers.OpenAI, "OPENAI_API_KEYS")
}

func normalizeProvider(p *Provider, envKey string) {
	if len(p.APIKeys) == 0 {
		if value, ok := os.LookupEnv(envKey); ok {
			p.APIKeys = splitKeys(value)
		}
	}
	p.APIKeys = dedupeKeys(p.APIKeys)
	p.BaseURL = strings.TrimSpace(p.BaseURL)
	if p.ThrottleFloorMS <= 0 {
		p.ThrottleFloorMS = defaultThrottleFloorMS
	}
	if len(p.ThrottleStepsSeconds) == 0 {
		p.ThrottleStepsSeconds = defaultThrottleSteps()
	}
	if p.ThrottleMultiplier <= 1 {
		p.ThrottleMultiplier = defaultThrottleMultiplier
	}
	if p.ThrottleMaxSeconds <= 0 {
		p.ThrottleMaxSeconds = defaultThrottleMaxSeconds
	}
}

func splitKeys(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' })
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func normalizeOrder(order []string) []string {
	out := make([]string, 0, len(order))
	seen := make(map[string]struct{}, len(order))
	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}
