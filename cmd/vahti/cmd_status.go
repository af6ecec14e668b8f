package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/detect"
	"github.com/yairfalse/vahti/gitx"
	"github.com/yairfalse/vahti/history"
	"github.com/yairfalse/vahti/opcache"
	"github.com/yairfalse/vahti/types"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show enforcement posture for this repository",
	Long: `Show what vahti is doing in this repository: effective config,
which hook shims are installed, cache freshness and history volume.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, root, err := openRepo(ctx)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	gitDir, err := repo.GitDir(ctx)
	if err != nil {
		return fmt.Errorf("locate git dir: %w", err)
	}

	slug := repo.RepoSlug(ctx)
	if slug == "" {
		slug = root
	}
	fmt.Printf("Vahti status for %s\n", slug)
	fmt.Println()

	fmt.Println("Config")
	fmt.Printf("   mode           %s\n", cfg.Mode)
	fmt.Printf("   fail mode      %s\n", cfg.FailMode)
	fmt.Printf("   protected      %s\n", strings.Join(cfg.ProtectedBranches, ", "))
	fmt.Printf("   service        %s\n", cfg.Service.BaseURL)
	fmt.Printf("   detection      %s\n", enabledWord(cfg.Detection.Enabled))
	fmt.Printf("   secrets scan   %s\n", enabledWord(cfg.Secrets.Enabled))
	fmt.Println()

	printDetection(ctx, cfg, repo, gitDir)

	fmt.Println("Hooks")
	for _, hookType := range managedHooks {
		fmt.Printf("   %-22s %s\n", hookType, hookState(filepath.Join(gitDir, "hooks", string(hookType))))
	}
	fmt.Println()

	printCacheStats(cfg, gitDir)
	printHistoryStats(cfg, gitDir)
	return nil
}

// printDetection scores the current environment the same way a hook
// invocation would, so an agent can check what vahti sees before it
// touches anything.
func printDetection(ctx context.Context, cfg *config.Config, repo *gitx.Repo, gitDir string) {
	if !cfg.Detection.Enabled {
		return
	}
	handshake := cfg.Detection.HandshakeFile
	if handshake == "" {
		handshake = detect.DefaultHandshakePath
	}
	if !filepath.IsAbs(handshake) {
		handshake = filepath.Join(gitDir, handshake)
	}

	signals := detect.CollectSignals(detect.Snapshot(ctx, repo, handshake))
	fmt.Printf("Detection (score %.2f)\n", detect.Score(signals))
	if agent := types.DominantAgent(signals); agent != "" && agent != types.AgentUnknown {
		fmt.Printf("   agent          %s\n", agent)
	}
	for _, s := range signals {
		fmt.Printf("   %-14s %.2f  %s\n", s.Source, s.Confidence, s.Reason)
	}
	if len(signals) == 0 {
		fmt.Println("   no agent signals in this environment")
	}
	fmt.Println()
}

func hookState(path string) string {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "missing"
	}
	if err != nil {
		return "unreadable"
	}
	if strings.Contains(string(data), shimMarker) {
		return "installed"
	}
	return "foreign hook"
}

func printCacheStats(cfg *config.Config, gitDir string) {
	cache, err := opcache.New(cacheDirFor(cfg, gitDir))
	if err != nil {
		return
	}
	stats, err := cache.Stats()
	if err != nil {
		return
	}
	fmt.Printf("Cache (%d entries, %d expired)\n", stats.Total, stats.Expired)
	for result, n := range stats.ByResult {
		fmt.Printf("   %-12s %d\n", result, n)
	}
	fmt.Println()
}

func printHistoryStats(cfg *config.Config, gitDir string) {
	store, err := history.Open(historyPathFor(cfg, gitDir))
	if err != nil {
		fmt.Println("History unavailable (another vahti process may hold it)")
		return
	}
	defer func() { _ = store.Close() }()

	stats := store.Stats()
	fmt.Printf("History (%d decisions)\n", stats.Total)
	if stats.Total > 0 {
		fmt.Printf("   oldest         %s\n", stats.Oldest.Format("2006-01-02 15:04"))
		fmt.Printf("   newest         %s\n", stats.Newest.Format("2006-01-02 15:04"))
		for action, n := range stats.ByAction {
			fmt.Printf("   %-14s %d\n", action, n)
		}
	}
}

func enabledWord(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

// State locations mirror what the hook runner derives.
func stateDirFor(gitDir string) string {
	return filepath.Join(gitDir, "vahti")
}

func cacheDirFor(cfg *config.Config, gitDir string) string {
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir
	}
	return filepath.Join(stateDirFor(gitDir), "cache")
}

func auditDirFor(cfg *config.Config, gitDir string) string {
	if cfg.Audit.Dir != "" {
		return cfg.Audit.Dir
	}
	return filepath.Join(stateDirFor(gitDir), "audit")
}

func historyPathFor(cfg *config.Config, gitDir string) string {
	if cfg.History.Path != "" {
		return cfg.History.Path
	}
	return filepath.Join(stateDirFor(gitDir), "history.db")
}
