package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"autovideo/internal/api"
	"autovideo/internal/daemonctl"
)

// daemonWait bounds both the start handshake and the SIGTERM grace period.
const daemonWait = 10 * time.Second

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the autovideo daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			ctl, err := ctx.controller()
			if err != nil {
				return err
			}

			result, err := ctl.Start(cmd.Context(), exe, daemonLaunchOptions(ctx, startLogLevel), daemonWait)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the autovideo daemon (interrupts the active run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			ctl, err := ctx.controller()
			if err != nil {
				return err
			}
			result, err := ctl.Stop(cmd.Context(), daemonWait)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, provider and run status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := ctx.controller()
			if err != nil {
				return err
			}
			status, err := ctl.Status(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(newPrinter(cmd.OutOrStdout()), status)
			return nil
		},
	}

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the autovideo daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			ctl, err := ctx.controller()
			if err != nil {
				return err
			}
			result, err := ctl.Restart(cmd.Context(), exe, daemonLaunchOptions(ctx, restartLogLevel), daemonWait, daemonWait)
			if err != nil {
				return err
			}
			if result.WasRunning {
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override the configured log level")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func renderDaemonStatus(p *printer, status *api.DaemonStatus) {
	p.section("System Status")
	if status.Running {
		p.line("autovideo", toneOK, fmt.Sprintf("Running (pid %d)", status.PID))
	} else {
		p.line("autovideo", toneWarn, "Not running (run `autovideo start`)")
	}
	p.line("Storage", toneInfo, status.Storage)
	if status.Workflow.ActiveRun != "" {
		p.line("Active run", runTone(status.Workflow.ActiveState),
			fmt.Sprintf("%s (%s)", status.Workflow.ActiveRun, status.Workflow.ActiveState))
	}
	if status.Workflow.LastError != "" {
		p.line("Last error", toneError, status.Workflow.LastError)
	}
	p.blank()

	p.section("Preflight")
	for _, line := range preflightLines(status.Preflight, p.color) {
		fmt.Fprintln(p.out, line)
	}

	if len(status.Workflow.StageHealth) > 0 {
		p.blank()
		p.section("Stages")
		for _, h := range status.Workflow.StageHealth {
			if h.Ready {
				p.line(h.Name, toneOK, "Ready")
			} else {
				p.line(h.Name, toneError, h.Detail)
			}
		}
	}

	if len(status.Providers) > 0 {
		p.blank()
		p.section("Providers")
		p.table([]column{
			col("Provider"), rcol("Keys"), rcol("Minute"), rcol("Hour"),
			rcol("Today"), rcol("Throttle"), col("Paused Until"),
		}, providerRows(status.Providers))
	}

	p.blank()
	p.section("Runs")
	rows := runCountRows(status.Workflow.RunCounts)
	if len(rows) == 0 {
		fmt.Fprintln(p.out, "No runs recorded")
		return
	}
	p.table([]column{col("Status"), rcol("Count")}, rows)
}

func preflightLines(checks []api.PreflightCheck, color bool) []string {
	if len(checks) == 0 {
		return []string{statusLine("Checks", toneInfo, "None run", color)}
	}
	lines := make([]string, 0, len(checks))
	for _, check := range checks {
		t := toneOK
		if !check.Passed {
			t = toneError
		}
		detail := strings.TrimSpace(check.Detail)
		if detail == "" {
			detail = "ok"
		}
		lines = append(lines, statusLine(check.Name, t, detail, color))
	}
	return lines
}

func providerRows(providers []api.ProviderStatus) [][]string {
	rows := make([][]string, 0, len(providers))
	for _, p := range providers {
		rows = append(rows, []string{
			p.Name,
			fmt.Sprintf("%d/%d", p.KeysAvailable, len(p.Keys)),
			limitCell(p.MinuteCount, p.MaxPerMinute),
			limitCell(p.HourCount, p.MaxPerHour),
			strconv.Itoa(p.TotalToday),
			(time.Duration(p.ThrottleDelayMS) * time.Millisecond).String(),
			p.PausedUntil,
		})
	}
	return rows
}

func limitCell(count, limit int) string {
	if limit <= 0 {
		return strconv.Itoa(count)
	}
	return fmt.Sprintf("%d/%d", count, limit)
}

func runCountRows(counts map[string]int) [][]string {
	statuses := make([]string, 0, len(counts))
	for status, count := range counts {
		if count > 0 {
			statuses = append(statuses, status)
		}
	}
	sort.Strings(statuses)
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{status, strconv.Itoa(counts[status])})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   strings.TrimSpace(logLevel),
	}
}
