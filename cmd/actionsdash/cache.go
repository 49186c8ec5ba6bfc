package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/actionsdash/actionsdash/pkg/cachestore"
)

var cacheClearAll bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the local run cache",
}

var cacheCheckCmd = &cobra.Command{
	Use:   "check <owner/repo>",
	Short: "Show cache state for a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheCheck,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [owner/repo]",
	Short: "Clear cached runs for one repository, or all with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheClear,
}

func init() {
	cacheClearCmd.Flags().BoolVar(&cacheClearAll, "all", false,
		"clear every repository's cache")

	cacheCmd.AddCommand(cacheCheckCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// withCache loads config, opens the cache store, runs fn, and closes
// the store again.
func withCache(fn func(ctx context.Context, cache cachestore.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	cache := cachestore.NewStore(log, &cfg.Cache.Database)
	if err := cache.Start(ctx); err != nil {
		return fmt.Errorf("starting cache store: %w", err)
	}

	defer func() {
		if err := cache.Stop(); err != nil {
			log.WithError(err).Warn("Cache store stop error")
		}
	}()

	return fn(ctx, cache)
}

func runCacheCheck(cmd *cobra.Command, args []string) error {
	return withCache(func(ctx context.Context, cache cachestore.Store) error {
		repo := args[0]

		info, err := cache.CheckCache(ctx, repo)
		if err != nil {
			return fmt.Errorf("checking cache: %w", err)
		}

		if !info.Exists {
			fmt.Printf("%s: no cached data\n", repo)

			return nil
		}

		fmt.Printf("%s: %d cached runs\n", repo, info.TotalRuns)

		if !info.LastUpdated.IsZero() {
			fmt.Printf("  last updated: %s\n",
				info.LastUpdated.Format("2006-01-02 15:04:05 MST"))
		}

		status, err := cache.GetStatus(ctx, repo)
		if err != nil {
			return fmt.Errorf("reading collection status: %w", err)
		}

		if status != nil {
			fmt.Printf("  complete: %t\n", status.IsComplete)

			if status.Error != "" {
				fmt.Printf("  last error: %s\n", status.Error)
			}
		}

		return nil
	})
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	return withCache(func(ctx context.Context, cache cachestore.Store) error {
		if cacheClearAll {
			if err := cache.ClearAll(ctx); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}

			fmt.Println("cleared all cached data")

			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("repository argument or --all is required")
		}

		if err := cache.Clear(ctx, args[0]); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}

		fmt.Printf("cleared cached data for %s\n", args[0])

		return nil
	})
}
