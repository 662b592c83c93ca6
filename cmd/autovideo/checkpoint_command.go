package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"autovideo/internal/client"
)

func newCheckpointCommand(ctx *commandContext) *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect run checkpoints",
	}
	checkpointCmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show the stored checkpoint and where a restart would resume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c context.Context, apiClient *client.Client) error {
				cp, err := apiClient.Checkpoint(c, args[0])
				if err != nil {
					if client.IsNotFound(err) {
						return fmt.Errorf("no checkpoint stored for %s", args[0])
					}
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, cp)
				}
				p := newPrinter(cmd.OutOrStdout())
				p.section("Checkpoint " + cp.PipelineID)
				p.line("Saved", toneInfo, cp.SavedAt)
				p.line("Last stage", toneInfo, cp.Stage)
				completed := strings.Join(cp.Completed, ", ")
				if completed == "" {
					completed = "none"
				}
				p.line("Completed", toneOK, completed)
				if cp.Failed {
					p.line("Failed stage", toneError, cp.FailedStage)
				}
				if cp.Done {
					p.line("Next", toneOK, "nothing left to run")
				} else {
					p.line("Next", toneInfo, cp.NextStage)
				}
				return nil
			})
		},
	})
	return checkpointCmd
}
