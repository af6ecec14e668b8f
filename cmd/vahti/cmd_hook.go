package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/hook"
	"github.com/yairfalse/vahti/telemetry"
)

// hookCmd represents the hook command
var hookCmd = &cobra.Command{
	Use:   "hook <type> [args...]",
	Short: "Run one git hook invocation (called by the installed shims)",
	Long: `Run the enforcement engine for a single git hook invocation.

The installed hook shims call this command with the hook type and
whatever arguments git passed; stdin is forwarded untouched. Exit code
0 lets the git operation proceed, 1 stops it.

Engine failures that are vahti's own fault (panics, unreadable state)
exit 0 rather than locking users out of git.`,
	Example: `  vahti hook pre-push origin git@github.com:acme/api.git
  vahti hook pre-commit
  vahti hook reference-transaction prepared`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runHook(args))
	},
}

func init() {
	rootCmd.AddCommand(hookCmd)
}

// runHook wires the runner and executes one invocation. Setup failures
// exit 0: a misconfigured guard must not brick the repository.
func runHook(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := telemetry.NewLogger("vahti")

	repo, root, err := openRepo(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("hook invoked outside a repository")
		return hook.ExitAllow
	}

	cfg, err := loadConfig(root)
	if err != nil {
		// A broken config file falls back to defaults instead of either
		// bricking git or silently dropping enforcement.
		logger.Warn().Err(err).Msg("config unusable, enforcing defaults")
		fmt.Fprintf(os.Stderr, "vahti: config error (%v), using defaults\n", err)
		cfg = config.DefaultConfig()
	}

	if cfg.OTEL.Endpoint != "" {
		shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
			ServiceName:    "vahti",
			ServiceVersion: version,
			OTELEndpoint:   cfg.OTEL.Endpoint,
			Insecure:       cfg.OTEL.Insecure,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("telemetry init failed")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	runner, err := hook.NewRunner(ctx, cfg, repo, logger)
	if err != nil {
		logger.Error().Err(err).Msg("runner setup failed")
		return hook.ExitAllow
	}
	defer func() { _ = runner.Close() }()

	return runner.Run(ctx, args[0], args[1:], os.Stdin)
}
