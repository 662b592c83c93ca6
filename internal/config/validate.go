package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if len(c.Workflow.Stages) == 0 {
		return errors.New("workflow.stages must include at least one stage")
	}
	seen := make(map[string]struct{}, len(c.Workflow.Stages))
	for _, name := range c.Workflow.Stages {
		if _, ok := seen[name]; ok {
			return fmt.Errorf("workflow.stages: duplicate stage %q", name)
		}
		seen[name] = struct{}{}
	}
	if c.Workflow.MinFreeDiskMB < 0 {
		return errors.New("workflow.min_free_disk_mb must be >= 0")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageFile, StorageSQLite:
		return nil
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr must be set when storage.backend is redis")
		}
		if c.Storage.RedisDB < 0 {
			return errors.New("storage.redis_db must be >= 0")
		}
		return nil
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (use file, sqlite, or redis)", c.Storage.Backend)
	}
}

func (c *Config) validateCache() error {
	if !c.Cache.Enabled {
		return nil
	}
	if c.Cache.DefaultTTLSeconds <= 0 {
		return errors.New("cache.default_ttl_seconds must be positive")
	}
	if c.Cache.FlushIntervalSeconds < 0 {
		return errors.New("cache.flush_interval_seconds must be >= 0")
	}
	if c.Cache.MaxEntries < 0 {
		return errors.New("cache.max_entries must be >= 0")
	}
	for pattern, seconds := range c.Cache.ContentTTLs {
		if seconds <= 0 {
			return fmt.Errorf("cache.content_ttls.%s must be positive", pattern)
		}
	}
	return nil
}

func (c *Config) validateProviders() error {
	if c.Providers.CallTimeoutSeconds <= 0 {
		return errors.New("providers.call_timeout_seconds must be positive")
	}
	if c.Providers.TransientRetries < 0 {
		return errors.New("providers.transient_retries must be >= 0")
	}
	if c.Providers.TransientBackoffMS < 0 {
		return errors.New("providers.transient_backoff_ms must be >= 0")
	}
	if _, err := time.LoadLocation(c.Providers.ResetZone); err != nil {
		return fmt.Errorf("providers.reset_zone: %w", err)
	}
	orders := map[string][]string{
		"providers.text_order":   c.Providers.TextOrder,
		"providers.speech_order": c.Providers.SpeechOrder,
		"providers.image_order":  c.Providers.ImageOrder,
	}
	for field, order := range orders {
		for _, name := range order {
			if _, ok := c.Provider(name); !ok {
				return fmt.Errorf("%s: unknown provider %q", field, name)
			}
		}
	}
	for name, p := range map[string]Provider{ProviderGemini: c.Providers.Gemini, ProviderOpenAI: c.Providers.OpenAI} {
		if p.MaxPerMinute < 0 {
			return fmt.Errorf("providers.%s.max_per_minute must be >= 0", name)
		}
		if p.MaxPerHour < 0 {
			return fmt.Errorf("providers.%s.max_per_hour must be >= 0", name)
		}
		if p.MaxPerMinute > 0 && p.MaxPerHour > 0 && p.MaxPerHour < p.MaxPerMinute {
			return fmt.Errorf("providers.%s.max_per_hour must be >= max_per_minute", name)
		}
		for _, step := range p.ThrottleStepsSeconds {
			if step <= 0 {
				return fmt.Errorf("providers.%s.throttle_steps_seconds must be positive", name)
			}
		}
	}
	return nil
}
