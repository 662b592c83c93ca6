package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"autovideo/internal/api"
)

func runRows(runs []api.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		stage := run.CurrentStage
		if stage == "" {
			stage = "-"
		}
		rows = append(rows, []string{
			run.ID,
			run.Status,
			stage,
			fmt.Sprintf("%d/%d", len(run.Completed), len(run.Stages)),
			run.UpdatedAt,
		})
	}
	return rows
}

func renderRun(cmd *cobra.Command, run *api.Run) {
	p := newPrinter(cmd.OutOrStdout())
	p.section("Run " + run.ID)
	p.line("Status", runTone(run.Status), run.Status)
	if run.CurrentStage != "" {
		p.line("Current stage", toneInfo, run.CurrentStage)
	}
	if run.ResumedFrom != "" {
		p.line("Resumed from", toneInfo, run.ResumedFrom)
	}
	if run.Reason != "" {
		p.line("Reason", toneWarn, run.Reason)
	}
	if run.Error != "" {
		p.line("Error", toneError, run.Error)
	}
	p.blank()
	p.table([]column{col("Stage"), col("Progress"), col("Done")}, stageRows(run))

	if len(run.Logs) > 0 {
		p.blank()
		p.section("Recent logs")
		for _, evt := range run.Logs {
			fmt.Fprintln(p.out, formatLogEvent(evt))
		}
	}
}

func stageRows(run *api.Run) [][]string {
	done := make(map[string]bool, len(run.Completed))
	for _, name := range run.Completed {
		done[name] = true
	}
	rows := make([][]string, 0, len(run.Stages))
	for _, name := range run.Stages {
		rows = append(rows, []string{
			name,
			progressCell(run.Progress[name]),
			yesNo(done[name]),
		})
	}
	return rows
}

func formatLogEvent(evt api.LogEvent) string {
	parts := []string{evt.Timestamp, strings.ToUpper(evt.Level)}
	if evt.Stage != "" {
		parts = append(parts, "["+evt.Stage+"]")
	}
	parts = append(parts, evt.Message)
	return strings.Join(parts, " ")
}
