package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"autovideo/internal/api"
	"autovideo/internal/client"
)

const waitPollInterval = 500 * time.Millisecond

func newRunCommand(ctx *commandContext) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start and control pipeline runs",
	}
	runCmd.AddCommand(newRunStartCommand(ctx))
	runCmd.AddCommand(newRunListCommand(ctx))
	runCmd.AddCommand(newRunShowCommand(ctx))
	runCmd.AddCommand(newRunControlCommand(ctx, "pause", "Pause a run at its next checkpoint", (*client.Client).PauseRun))
	runCmd.AddCommand(newRunControlCommand(ctx, "resume", "Resume a paused run", (*client.Client).ResumeRun))
	runCmd.AddCommand(newRunControlCommand(ctx, "cancel", "Cancel a run, keeping its checkpoint", (*client.Client).CancelRun))
	return runCmd
}

func newRunStartCommand(ctx *commandContext) *cobra.Command {
	var (
		id        string
		input     string
		inputFile string
		stages    []string
		settings  []string
		wait      bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new run, or resume one by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.StartRunRequest{ID: strings.TrimSpace(id), Stages: stages, Input: input}
			if path := strings.TrimSpace(inputFile); path != "" {
				abs, err := filepath.Abs(path)
				if err != nil {
					return fmt.Errorf("resolve input file: %w", err)
				}
				req.InputPath = abs
			}
			parsed, err := parseSettings(settings)
			if err != nil {
				return err
			}
			req.Settings = parsed

			return ctx.withClient(cmd.Context(), func(c context.Context, apiClient *client.Client) error {
				run, err := apiClient.StartRun(c, req)
				if err != nil {
					return err
				}
				if wait {
					run, err = waitForRun(c, apiClient, run.ID)
					if err != nil {
						return err
					}
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, run)
				}
				out := cmd.OutOrStdout()
				if run.ResumedFrom != "" {
					fmt.Fprintf(out, "Resuming run %s from checkpoint %s\n", run.ID, run.ResumedFrom)
				}
				fmt.Fprintf(out, "Run %s %s\n", run.ID, run.Status)
				if run.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", run.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Run id; an existing checkpoint with this id is resumed")
	cmd.Flags().StringVar(&input, "input", "", "Source text")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "Path to a source text file (read by the daemon)")
	cmd.Flags().StringSliceVar(&stages, "stage", nil, "Stage to run (repeatable, defaults to the configured order)")
	cmd.Flags().StringArrayVar(&settings, "set", nil, "Stage setting as stage.key=value (repeatable)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the run finishes")
	return cmd
}

// parseSettings turns stage.key=value pairs into per-stage maps.
func parseSettings(pairs []string) (map[string]map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]map[string]string)
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		stageName, option, dotted := strings.Cut(strings.TrimSpace(key), ".")
		if !ok || !dotted || stageName == "" || option == "" {
			return nil, fmt.Errorf("invalid setting %q (expected stage.key=value)", pair)
		}
		if out[stageName] == nil {
			out[stageName] = make(map[string]string)
		}
		out[stageName][option] = value
	}
	return out, nil
}

func waitForRun(ctx context.Context, apiClient *client.Client, id string) (*api.Run, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		run, err := apiClient.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if isTerminal(run.Status) {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	default:
		return false
	}
}

func newRunListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c context.Context, apiClient *client.Client) error {
				runs, err := apiClient.ListRuns(c)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
					return nil
				}
				newPrinter(cmd.OutOrStdout()).table(
					[]column{col("ID"), col("Status"), col("Stage"), rcol("Done"), col("Updated")},
					runRows(runs),
				)
				return nil
			})
		},
	}
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run with per-stage progress and recent logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c context.Context, apiClient *client.Client) error {
				run, err := apiClient.GetRun(c, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, run)
				}
				renderRun(cmd, run)
				return nil
			})
		},
	}
}

type runControlFunc func(*client.Client, context.Context, string) (*api.Run, error)

func newRunControlCommand(ctx *commandContext, verb, short string, op runControlFunc) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c context.Context, apiClient *client.Client) error {
				run, err := op(apiClient, c, args[0])
				if err != nil {
					var apiErr *client.APIError
					if errors.As(err, &apiErr) {
						return fmt.Errorf("%s %s: %s", verb, args[0], apiErr.Message)
					}
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, run)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s %s\n", run.ID, run.Status)
				return nil
			})
		},
	}
}
