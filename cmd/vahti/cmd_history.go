package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/history"
	"github.com/yairfalse/vahti/types"
)

var (
	historyBranch    string
	historyOperation string
	historyAction    string
	historyLimit     int
	historyWithin    time.Duration
	historyPruneAge  time.Duration
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query past enforcement decisions",
	Long: `List the decisions vahti made in this repository, newest first.

The history store answers "what happened to that branch" locally,
without the policy service.`,
	Example: `  vahti history                          # Recent decisions
  vahti history --branch main            # One branch
  vahti history --operation force_push   # One operation type
  vahti history --action block           # Only blocks
  vahti history --within 72h             # Time-bounded`,
	RunE: runHistory,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the history store",
	RunE:  runHistoryStats,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop decisions older than a cutoff",
	RunE:  runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyPruneCmd)

	historyCmd.Flags().StringVar(&historyBranch, "branch", "", "Filter by branch")
	historyCmd.Flags().StringVar(&historyOperation, "operation", "", "Filter by operation type")
	historyCmd.Flags().StringVar(&historyAction, "action", "", "Filter by resolved action")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum records to show")
	historyCmd.Flags().DurationVar(&historyWithin, "within", 0, "Only decisions within this window (e.g. 72h)")

	historyPruneCmd.Flags().DurationVar(&historyPruneAge, "older-than", 90*24*time.Hour, "Drop records older than this")
}

func openHistory(ctx context.Context) (*history.Store, error) {
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
	return history.Open(historyPathFor(cfg, gitDir))
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openHistory(context.Background())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	query := types.DecisionQuery{
		Branch:    historyBranch,
		Operation: types.OperationType(historyOperation),
		Action:    types.Action(historyAction),
		Limit:     historyLimit,
	}
	if historyWithin > 0 {
		query.Since = time.Now().Add(-historyWithin)
	}

	records, err := store.Query(query)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No matching decisions")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  %-7s %-27s %-20s %s\n",
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
			rec.Action, rec.Operation, rec.Branch, rec.Reason)
	}
	return nil
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	store, err := openHistory(context.Background())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats := store.Stats()
	fmt.Printf("Decisions recorded: %d\n", stats.Total)
	if stats.Total == 0 {
		return nil
	}
	fmt.Printf("   oldest   %s\n", stats.Oldest.Local().Format("2006-01-02 15:04"))
	fmt.Printf("   newest   %s\n", stats.Newest.Local().Format("2006-01-02 15:04"))
	fmt.Println()
	fmt.Println("By action")
	for action, n := range stats.ByAction {
		fmt.Printf("   %-18s %d\n", action, n)
	}
	fmt.Println()
	fmt.Println("By operation")
	for op, n := range stats.ByOperation {
		fmt.Printf("   %-27s %d\n", op, n)
	}
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	store, err := openHistory(context.Background())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	removed, err := store.Prune(time.Now().Add(-historyPruneAge))
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d decisions older than %s\n", removed, historyPruneAge)
	return nil
}
