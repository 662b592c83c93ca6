package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Workflow contains configuration for stage sequencing and control.
type Workflow struct {
	Stages              []string `toml:"stages"`
	PausePollIntervalMS int      `toml:"pause_poll_interval_ms"`
	CheckpointsEnabled  bool     `toml:"checkpoints_enabled"`
	MinFreeDiskMB       int      `toml:"min_free_disk_mb"`
	StatusLogLimit      int      `toml:"status_log_limit"`
}

// Storage selects the durable key/value backend shared by checkpoints and the
// response cache document.
type Storage struct {
	Backend       string `toml:"backend"` // file, sqlite, or redis
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
}

// Cache contains configuration for the provider response cache.
type Cache struct {
	Enabled              bool           `toml:"enabled"`
	Namespace            string         `toml:"namespace"`
	DefaultTTLSeconds    int            `toml:"default_ttl_seconds"`
	FlushIntervalSeconds int            `toml:"flush_interval_seconds"`
	MaxEntries           int            `toml:"max_entries"`
	ContentTTLs          map[string]int `toml:"content_ttls"` // substring -> seconds
}

// Notifications contains ntfy delivery settings for run lifecycle alerts.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyCompleted       bool   `toml:"notify_completed"`
	NotifyFailed          bool   `toml:"notify_failed"`
}

// Provider contains credentials, models and quota settings for one provider.
type Provider struct {
	Enabled              bool     `toml:"enabled"`
	APIKeys              []string `toml:"api_keys"`
	BaseURL              string   `toml:"base_url"`
	TextModel            string   `toml:"text_model"`
	SpeechModel          string   `toml:"speech_model"`
	ImageModel           string   `toml:"image_model"`
	Voice                string   `toml:"voice"`
	MaxPerMinute         int      `toml:"max_per_minute"`
	MaxPerHour           int      `toml:"max_per_hour"`
	ThrottleFloorMS      int      `toml:"throttle_floor_ms"`
	ThrottleStepsSeconds []int    `toml:"throttle_steps_seconds"`
	ThrottleMultiplier   float64  `toml:"throttle_multiplier"`
	ThrottleMaxSeconds   int      `toml:"throttle_max_seconds"`
}

// Providers contains the shared call policy plus per-provider settings.
type Providers struct {
	CallTimeoutSeconds int      `toml:"call_timeout_seconds"`
	TransientRetries   int      `toml:"transient_retries"`
	TransientBackoffMS int      `toml:"transient_backoff_ms"`
	ResetZone          string   `toml:"reset_zone"`
	TextOrder          []string `toml:"text_order"`
	SpeechOrder        []string `toml:"speech_order"`
	ImageOrder         []string `toml:"image_order"`
	Gemini             Provider `toml:"gemini"`
	OpenAI             Provider `toml:"openai"`
}

// Config encapsulates all configuration values for autovideo.
//
// Configuration sections by subsystem:
//   - Paths: work, log and state directories plus the API bind address
//   - Logging: log format, level, and retention
//   - Workflow: stage order, pause polling, checkpoint policy
//   - Storage: durable backend for checkpoints and the cache document
//   - Cache: provider response cache TTLs and flushing
//   - Providers: call policy, fallback order, and per-provider quotas
//   - Notifications: ntfy alerts for finished runs
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Workflow      Workflow      `toml:"workflow"`
	Storage       Storage       `toml:"storage"`
	Cache         Cache         `toml:"cache"`
	Providers     Providers     `toml:"providers"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/autovideo/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("autovideo.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath is the flock file guarding single-instance daemon execution.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "autovideo.lock")
}

// PIDPath is where the daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "autovideo.pid")
}

// Provider returns the settings block for a provider name.
func (c *Config) Provider(name string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderGemini:
		return c.Providers.Gemini, true
	case ProviderOpenAI:
		return c.Providers.OpenAI, true
	default:
		return Provider{}, false
	}
}

// PauseInterval is the bounded wait between pause re-checks.
func (c *Config) PauseInterval() time.Duration {
	return time.Duration(c.Workflow.PausePollIntervalMS) * time.Millisecond
}

// CallTimeout bounds every external provider call.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Providers.CallTimeoutSeconds) * time.Second
}

// ResetLocation resolves the zone used for daily quota resets.
func (c *Config) ResetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Providers.ResetZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ContentTTLs converts the configured content heuristics to durations.
func (c *Config) ContentTTLs() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Cache.ContentTTLs))
	for pattern, seconds := range c.Cache.ContentTTLs {
		out[pattern] = time.Duration(seconds) * time.Second
	}
	return out
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
