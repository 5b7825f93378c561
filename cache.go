package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/coach-go/internal/querycache"
)

const recentInvalidationLimit = 10

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local query cache",
	}

	cmd.AddCommand(newCacheStatusCmd())
	cmd.AddCommand(newCacheClearCmd())

	return cmd
}

// withCache opens the cache file directly. It works with caching disabled
// so a stale file can still be inspected or cleared.
func withCache(cmd *cobra.Command, fn func(ctx context.Context, cc *CLIContext, c *querycache.Cache) error) error {
	cc, err := cliContextFrom(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	c, err := querycache.Open(ctx, cc.Cfg.CacheFile, cc.Cfg.TTL(), cc.Logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, cc, c)
}

type cacheStatusOutput struct {
	Path          string                    `json:"path"`
	Enabled       bool                      `json:"enabled"`
	TTL           string                    `json:"ttl"`
	Families      []querycache.TagStats     `json:"families"`
	Invalidations []querycache.Invalidation `json:"recent_invalidations"`
}

func newCacheStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show cached entries and recent invalidations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, func(ctx context.Context, cc *CLIContext, c *querycache.Cache) error {
				stats, err := c.Stats(ctx)
				if err != nil {
					return err
				}

				recent, err := c.RecentInvalidations(ctx, recentInvalidationLimit)
				if err != nil {
					return err
				}

				out := cacheStatusOutput{
					Path:          cc.Cfg.CacheFile,
					Enabled:       cc.Cfg.CacheEnabled,
					TTL:           cc.Cfg.TTL().String(),
					Families:      stats,
					Invalidations: recent,
				}

				if cc.Flags.JSON {
					return printJSON(cc.Out, out)
				}

				printCacheStatus(cc, out)

				return nil
			})
		},
	}
}

func printCacheStatus(cc *CLIContext, out cacheStatusOutput) {
	now := cc.Now()

	state := "enabled"
	if !out.Enabled {
		state = "disabled"
	}

	fmt.Fprintf(cc.Out, "Cache: %s (%s, ttl %s)\n\n", out.Path, state, out.TTL)

	if len(out.Families) == 0 {
		fmt.Fprintln(cc.Out, "No cached entries.")
	} else {
		rows := make([][]string, 0, len(out.Families))
		for _, s := range out.Families {
			rows = append(rows, []string{s.Tag, strconv.Itoa(s.Entries), formatTime(s.Oldest, now)})
		}

		printTable(cc.Out, []string{"FAMILY", "ENTRIES", "OLDEST"}, rows)
	}

	if len(out.Invalidations) == 0 {
		return
	}

	fmt.Fprintln(cc.Out)

	rows := make([][]string, 0, len(out.Invalidations))
	for _, inv := range out.Invalidations {
		rows = append(rows, []string{formatTime(inv.At, now), inv.Tag, strconv.FormatInt(inv.Dropped, 10)})
	}

	printTable(cc.Out, []string{"INVALIDATED", "FAMILY", "DROPPED"}, rows)
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd, func(ctx context.Context, cc *CLIContext, c *querycache.Cache) error {
				n, err := c.Clear(ctx)
				if err != nil {
					return err
				}

				cc.Statusf("Cleared %d cached responses.\n", n)

				return nil
			})
		},
	}
}
