package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"autovideo/internal/client"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		runID     string
		component string
		limit     int
		follow    bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c context.Context, apiClient *client.Client) error {
				out := cmd.OutOrStdout()
				query := client.LogQuery{Limit: limit, Tail: true, RunID: runID, Component: component}
				for {
					page, err := apiClient.Logs(c, query)
					if err != nil {
						if follow && errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					for _, evt := range page.Events {
						if ctx.jsonOutput() {
							if err := writeJSON(cmd, evt); err != nil {
								return err
							}
							continue
						}
						fmt.Fprintln(out, formatLogEvent(evt))
					}
					if !follow {
						return nil
					}
					query.Since = page.Next
					query.Tail = false
					query.Follow = true
				}
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Only show events for this run")
	cmd.Flags().StringVar(&component, "component", "", "Only show events from this component")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum events per page")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	return cmd
}
