package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"autovideo/internal/api"
	"autovideo/internal/client"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and flush the provider response cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c context.Context, apiClient *client.Client) error {
				stats, err := apiClient.Cache(c)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				renderCacheStatus(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	})
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Sweep expired entries and persist the cache now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c context.Context, apiClient *client.Client) error {
				resp, err := apiClient.FlushCache(c)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Swept %d expired entries\n", resp.Swept)
				renderCacheStatus(out, &resp.Cache)
				return nil
			})
		},
	})
	return cacheCmd
}

func renderCacheStatus(out io.Writer, stats *api.CacheStatus) {
	p := newPrinter(out)
	p.line("Namespace", toneInfo, stats.Namespace)
	p.line("Entries", toneInfo, strconv.Itoa(stats.Entries))
	p.line("Hit/Miss", toneInfo, fmt.Sprintf("%d/%d", stats.Hits, stats.Misses))
	p.line("Evictions", toneInfo, strconv.FormatUint(stats.Evictions, 10))
	if stats.LastFlush != "" {
		p.line("Last flush", toneOK, stats.LastFlush)
	}
	if stats.LastError != "" {
		p.line("Last error", toneError, stats.LastError)
	}
	if len(stats.Scopes) == 0 {
		return
	}
	scopes := make([]string, 0, len(stats.Scopes))
	for scope := range stats.Scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	rows := make([][]string, 0, len(scopes))
	for _, scope := range scopes {
		rows = append(rows, []string{scope, strconv.Itoa(stats.Scopes[scope])})
	}
	p.table([]column{col("Scope"), rcol("Entries")}, rows)
}
