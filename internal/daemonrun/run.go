package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"autovideo/internal/cache"
	"autovideo/internal/checkpoint"
	"autovideo/internal/config"
	"autovideo/internal/daemon"
	"autovideo/internal/daemonctl"
	"autovideo/internal/gateway"
	"autovideo/internal/keypool"
	"autovideo/internal/kvstore"
	"autovideo/internal/logging"
	"autovideo/internal/notifications"
	"autovideo/internal/ratelimit"
	"autovideo/internal/runstore"
	"autovideo/internal/stage"
	"autovideo/internal/stages"
	"autovideo/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the autovideo daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessionID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("autovideo-%s.log", sessionID))
	eventsPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("autovideo-%s.events", sessionID))
	logHub := logging.NewStreamHub(4096)
	eventArchive, archiveErr := logging.NewEventArchive(eventsPath)
	if archiveErr != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to initialize log archive: %v\n", archiveErr)
	} else if eventArchive != nil {
		logHub.AddSink(eventArchive)
		defer eventArchive.Close()
	}

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
		Hub:              logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update autovideo.log link: %v\n", err)
	}
	logging.PruneLogs(logger, cfg.Logging.RetentionDays, time.Now(),
		logging.RetentionTarget{
			Dir:      cfg.Paths.LogDir,
			Patterns: []string{"autovideo-*.log", "autovideo-*.events"},
			Keep:     []string{logPath, eventsPath},
		},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "runs"), Patterns: []string{"*.log"}},
	)
	logProviderSnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := daemonctl.WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	kv, err := kvstore.Open(cfg)
	if err != nil {
		logger.Error("open state store", logging.Error(err))
		return err
	}
	defer kv.Close()

	runs, err := runstore.Open(cfg)
	if err != nil {
		logger.Error("open run history", logging.Error(err))
		return err
	}
	defer runs.Close()

	responses := cache.NewFromConfig(cfg, kv, logger)
	keys := keypool.NewRegistryFromConfig(cfg, logger)
	limits := ratelimit.NewRegistryFromConfig(cfg, nil)
	gw := gateway.NewFromConfig(cfg, keys, limits, responses, logger)

	registry := stage.NewRegistry()
	stages.Register(registry, gw)

	checkpoints := checkpoint.New(kv, logger)
	workflowManager := workflow.NewManager(cfg, registry, checkpoints, logger,
		workflow.WithRunStore(runs),
		workflow.WithLogHub(logHub),
		workflow.WithNotifier(notifications.NewService(cfg)),
	)

	d, err := daemon.New(cfg, daemon.Deps{
		Workflow:    workflowManager,
		Checkpoints: checkpoints,
		Runs:        runs,
		Cache:       responses,
		Keys:        keys,
		Limits:      limits,
		Hub:         logHub,
		Archive:     eventArchive,
	}, logger, logPath)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that no other daemon holds the lock and api_bind is free"),
			logging.String(logging.FieldImpact, "no runs can be started"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("autovideo daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logging.LogFileName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func logProviderSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("provider snapshot",
		logging.String(logging.FieldEventType, "provider_snapshot"),
		logging.Bool("gemini_enabled", cfg.Providers.Gemini.Enabled),
		logging.Int("gemini_keys", len(cfg.Providers.Gemini.APIKeys)),
		logging.Bool("openai_enabled", cfg.Providers.OpenAI.Enabled),
		logging.Int("openai_keys", len(cfg.Providers.OpenAI.APIKeys)),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.Bool("cache_enabled", cfg.Cache.Enabled),
		logging.Int("stage_count", len(cfg.Workflow.Stages)),
	)
}
