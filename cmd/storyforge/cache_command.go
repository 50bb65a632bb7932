package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Generation cache utilities",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheSweepCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show generation cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				stats, err := rt.cache.Stats(runCtx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				rows := [][]string{
					{"Entries", strconv.Itoa(stats.Entries)},
					{"Size", fmt.Sprintf("%s of %s", formatBytes(stats.TotalBytes), formatBytes(stats.MaxBytes))},
					{"TTL", stats.TTL},
					{"Hits", strconv.FormatInt(stats.Hits, 10)},
					{"Misses", strconv.FormatInt(stats.Misses, 10)},
					{"Hit rate", fmt.Sprintf("%.1f%%", stats.HitRate*100)},
				}
				if stats.Oldest != nil {
					rows = append(rows, []string{"Oldest entry", formatTimestamp(*stats.Oldest)})
				}
				if stats.Newest != nil {
					rows = append(rows, []string{"Newest entry", formatTimestamp(*stats.Newest)})
				}
				if stats.TotalFSBytes > 0 {
					rows = append(rows, []string{"Disk free", fmt.Sprintf("%s of %s",
						formatBytes(int64(stats.FreeBytes)), formatBytes(int64(stats.TotalFSBytes)))})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Metric", "Value"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newCacheSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evict expired and over-budget cache entries now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				removed, err := rt.cache.Sweep(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", removed)
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(runCtx context.Context, rt *runtime) error {
				removed, err := rt.cache.Clear(runCtx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cache entries\n", removed)
				return nil
			})
		},
	}
}
