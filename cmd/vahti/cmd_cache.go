package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/opcache"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clean the operation verdict cache",
	Long: `The cache memoizes recent verdicts so repeating an operation inside
its TTL does not trigger another dry run. Safe verdicts live for five
minutes, dangerous ones for sixty seconds.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry counts",
	RunE:  runCacheStats,
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired cache entries",
	RunE:  runCacheCleanup,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
}

func openCache(ctx context.Context) (*opcache.Cache, error) {
	repo, root, err := openRepo(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	gitDir, err := repo.GitDir(ctx)
	if err != nil {
		return nil, fmt.Errorf("locate git dir: %w", err)
	}
	return opcache.New(cacheDirFor(cfg, gitDir))
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cache, err := openCache(context.Background())
	if err != nil {
		return err
	}
	stats, err := cache.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Cache at %s\n", stats.Directory)
	fmt.Println()
	fmt.Printf("   total     %d\n", stats.Total)
	fmt.Printf("   expired   %d\n", stats.Expired)
	for result, n := range stats.ByResult {
		fmt.Printf("   %-9s %d\n", result, n)
	}
	return nil
}

func runCacheCleanup(cmd *cobra.Command, args []string) error {
	cache, err := openCache(context.Background())
	if err != nil {
		return err
	}
	removed, err := cache.Cleanup()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d expired entries\n", removed)
	return nil
}
