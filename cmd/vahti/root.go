package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/gitx"
)

var (
	version    = "0.1.0"
	configPath string

	rootCmd = &cobra.Command{
		Use:   "vahti",
		Short: "Local guardrails for destructive git operations",
		Long: `Vahti - Local Git Operation Guardrails

Vahti installs itself into a repository's git hooks and intercepts
destructive operations before they land: force pushes, branch
deletions, history rewrites, hard resets and direct commits to
protected branches. Operations that need sign-off are dry-run against
a policy service and held until someone approves them.

Every decision is written to a local audit log and history store, so
"what deleted that branch" has an answer that does not depend on
anyone's memory.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Vahti {{.Version}} - Local Git Operation Guardrails
`)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: discover .vahti.yaml)")
}

// openRepo binds the current working directory to a repository.
func openRepo(ctx context.Context) (*gitx.Repo, string, error) {
	repo := gitx.Open(".")
	root, err := repo.RepoRoot(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("not inside a git repository: %w", err)
	}
	return repo, root, nil
}

// loadConfig resolves configuration for the repo rooted at root. An
// explicit --config path must load; discovery falls back to defaults.
func loadConfig(root string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.Discover(root)
}
