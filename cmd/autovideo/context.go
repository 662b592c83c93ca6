package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"autovideo/internal/client"
	"autovideo/internal/config"
	"autovideo/internal/daemonctl"
)

// commandContext carries the global flags and the lazily loaded config to
// every subcommand.
type commandContext struct {
	configFlag *string
	jsonFlag   *bool
	loadConfig func() (*config.Config, error)
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	c := &commandContext{configFlag: configFlag, jsonFlag: jsonFlag}
	c.loadConfig = sync.OnceValues(func() (*config.Config, error) {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			return nil, err
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, err
		}
		return cfg, nil
	})
	return c
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	return c.loadConfig()
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) controller() (*daemonctl.Controller, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return daemonctl.NewController(cfg)
}

// withClient runs fn against the daemon API, turning connection failures into
// a hint to start the daemon.
func (c *commandContext) withClient(cmdCtx context.Context, fn func(context.Context, *client.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	apiClient, err := daemonctl.NewClient(cfg)
	if err != nil {
		return err
	}
	return wrapClientError(fn(cmdCtx, apiClient), cfg.Paths.APIBind)
}

func wrapClientError(err error, bind string) error {
	if err != nil && client.IsUnavailable(err) {
		return fmt.Errorf("daemon at %s is not reachable (start it with `autovideo start`): %w", bind, err)
	}
	return err
}

// shouldSkipConfig reports whether cmd or an ancestor opted out of config
// loading via the skipConfigLoad annotation.
func shouldSkipConfig(cmd *cobra.Command) bool {
	for ; cmd != nil; cmd = cmd.Parent() {
		if cmd.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
