package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/config"
)

var auditTailCount int

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read and maintain the local audit log",
	Long: `The audit log is an append-only NDJSON trail of every hook decision,
one file per day. It is the ground truth for "why was that blocked".`,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit records",
	RunE:  runAuditTail,
}

var auditCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete audit files past the configured retention",
	RunE:  runAuditCleanup,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditCleanupCmd)

	auditTailCmd.Flags().IntVarP(&auditTailCount, "count", "n", 20, "Number of records to show")
}

func auditSetup(ctx context.Context) (*config.Config, string, error) {
	repo, root, err := openRepo(ctx)
	if err != nil {
		return nil, "", err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, "", err
	}
	gitDir, err := repo.GitDir(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("locate git dir: %w", err)
	}
	return cfg, auditDirFor(cfg, gitDir), nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	_, dir, err := auditSetup(context.Background())
	if err != nil {
		return err
	}

	// Replay is chronological; keep only the last N.
	recent := make([]audit.Record, 0, auditTailCount)
	err = audit.Replay(dir, time.Time{}, func(rec *audit.Record) error {
		if len(recent) == auditTailCount {
			copy(recent, recent[1:])
			recent = recent[:len(recent)-1]
		}
		recent = append(recent, *rec)
		return nil
	})
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Println("No audit records yet")
		return nil
	}

	for _, rec := range recent {
		line := fmt.Sprintf("%s  %-18s %-22s %-20s",
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
			rec.Event, rec.Hook, rec.Branch)
		if rec.Outcome != "" {
			line += "  outcome=" + rec.Outcome
		}
		if rec.Reason != "" {
			line += "  " + rec.Reason
		}
		fmt.Println(line)
	}
	return nil
}

func runAuditCleanup(cmd *cobra.Command, args []string) error {
	cfg, dir, err := auditSetup(context.Background())
	if err != nil {
		return err
	}

	stats, err := audit.Cleanup(dir, cfg.Audit.RetentionDays)
	if err != nil {
		return err
	}
	if cfg.Audit.RetentionDays <= 0 {
		fmt.Println("Retention disabled, nothing removed")
		return nil
	}
	fmt.Printf("Removed %d files (%d bytes) older than %d days\n",
		stats.FilesRemoved, stats.BytesFreed, cfg.Audit.RetentionDays)
	return nil
}
