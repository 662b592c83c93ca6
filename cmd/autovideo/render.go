package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type tone int

const (
	toneInfo tone = iota
	toneOK
	toneWarn
	toneError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	labelWidth  = 18
	lineIndent  = "  "
	barSegments = 10
)

// printer writes human-readable output, colouring only real terminals.
type printer struct {
	out   io.Writer
	color bool
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, color: useColor(out)}
}

func (p *printer) section(title string) {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	if p.color {
		line = ansiBlue + line + ansiReset
	}
	fmt.Fprintln(p.out, line)
}

func (p *printer) line(label string, t tone, message string) {
	fmt.Fprintln(p.out, statusLine(label, t, message, p.color))
}

func (p *printer) blank() {
	fmt.Fprintln(p.out)
}

func (p *printer) table(cols []column, rows [][]string) {
	fmt.Fprintln(p.out, renderTable(cols, rows))
}

func statusLine(label string, t tone, message string, color bool) string {
	badge := fmt.Sprintf("[%s]", toneLabel(t))
	if message != "" {
		badge += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", lineIndent, labelWidth, label+":", badge)
	if color {
		return toneColor(t) + base + ansiReset
	}
	return base
}

func toneLabel(t tone) string {
	switch t {
	case toneOK:
		return "OK"
	case toneWarn:
		return "WARN"
	case toneError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func toneColor(t tone) string {
	switch t {
	case toneOK:
		return ansiGreen
	case toneWarn:
		return ansiYellow
	case toneError:
		return ansiRed
	default:
		return ansiBlue
	}
}

// runTone maps a run status to the tone used for it everywhere.
func runTone(status string) tone {
	switch status {
	case "completed":
		return toneOK
	case "failed":
		return toneError
	case "paused", "cancelled":
		return toneWarn
	default:
		return toneInfo
	}
}

// useColor reports whether out is a terminal and NO_COLOR is unset.
func useColor(out io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type column struct {
	title string
	right bool
}

func col(title string) column  { return column{title: title} }
func rcol(title string) column { return column{title: title, right: true} }

func renderTable(cols []column, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		header[i] = c.title
		align := text.AlignLeft
		if c.right {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(cols))
		for i := range cols {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}

// progressCell draws percent as a fixed-width bar followed by the number.
func progressCell(percent float64) string {
	percent = min(max(percent, 0), 100)
	filled := int(percent / (100 / barSegments))
	return fmt.Sprintf("%s%s %3.0f%%", strings.Repeat("#", filled), strings.Repeat(".", barSegments-filled), percent)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
