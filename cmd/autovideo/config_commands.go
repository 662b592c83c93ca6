package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"autovideo/internal/config"
)

const redacted = "<redacted>"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration utilities"}
	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigValidateCommand(ctx),
		newConfigShowCommand(ctx),
	)
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		pathFlag  string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := initTarget(pathFlag)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if _, err := os.Stat(target); err == nil && !overwrite {
				return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("check config path: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			p := newPrinter(cmd.OutOrStdout())
			p.line("Config", toneOK, "Wrote sample configuration to "+target)
			p.line("Next", toneInfo, "Add provider API keys (or export GEMINI_API_KEYS / OPENAI_API_KEYS) before starting a run")
			return nil
		},
	}
	cmd.Flags().StringVarP(&pathFlag, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing configuration file")
	return cmd
}

func initTarget(raw string) (string, error) {
	if raw = strings.TrimSpace(raw); raw == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return path, nil
	}
	path, err := config.ExpandPath(raw)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

// configReport is the --json shape of `config validate`.
type configReport struct {
	Path      string         `json:"path"`
	Exists    bool           `json:"exists"`
	Stages    []string       `json:"stages"`
	Storage   string         `json:"storage"`
	Providers map[string]int `json:"provider_keys"`
	Valid     bool           `json:"valid"`
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and create its directories",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			report := configReport{
				Path:    path,
				Exists:  exists,
				Stages:  cfg.Workflow.Stages,
				Storage: cfg.Storage.Backend,
				Providers: map[string]int{
					"gemini": len(cfg.Providers.Gemini.APIKeys),
					"openai": len(cfg.Providers.OpenAI.APIKeys),
				},
				Valid: true,
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, report)
			}

			p := newPrinter(cmd.OutOrStdout())
			p.line("Config path", toneInfo, path)
			if !exists {
				p.line("Config file", toneWarn, "not found; defaults were used")
			}
			p.line("Stages", toneInfo, strings.Join(report.Stages, ", "))
			p.line("Storage", toneInfo, report.Storage)
			for _, name := range []string{"gemini", "openai"} {
				keys := report.Providers[name]
				t := toneOK
				if keys == 0 {
					t = toneWarn
				}
				p.line(name+" keys", t, strconv.Itoa(keys))
			}
			p.line("Result", toneOK, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := redactConfig(*loaded)
			if ctx.jsonOutput() {
				return writeJSON(cmd, cfg)
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// redactConfig masks API keys, the API token and the redis password.
func redactConfig(cfg config.Config) config.Config {
	mask := func(keys []string) []string {
		out := make([]string, len(keys))
		for i := range keys {
			out[i] = redacted
		}
		return out
	}
	cfg.Providers.Gemini.APIKeys = mask(cfg.Providers.Gemini.APIKeys)
	cfg.Providers.OpenAI.APIKeys = mask(cfg.Providers.OpenAI.APIKeys)
	if cfg.Paths.APIToken != "" {
		cfg.Paths.APIToken = redacted
	}
	if cfg.Storage.RedisPassword != "" {
		cfg.Storage.RedisPassword = redacted
	}
	return cfg
}
