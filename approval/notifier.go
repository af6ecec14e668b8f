package approval

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/yairfalse/vahti/types"
)

// ConsoleNotifier writes approval prompts to stderr, which git relays
// to the user's terminal. Reminders are suppressed when stderr is not
// a terminal; in CI nobody is watching and the lines just pollute logs.
type ConsoleNotifier struct {
	out io.Writer
	tty bool
}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{
		out: os.Stderr,
		tty: isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
}

// NewConsoleNotifierTo redirects output, for tests and embedding.
func NewConsoleNotifierTo(w io.Writer, tty bool) *ConsoleNotifier {
	return &ConsoleNotifier{out: w, tty: tty}
}

func (n *ConsoleNotifier) ApprovalRequested(result types.DryRunResult) {
	fmt.Fprintf(n.out, "vahti: approval required (risk %.1f/10)\n", result.RiskScore)
	if result.HumanPreview != "" {
		fmt.Fprintf(n.out, "   %s\n", result.HumanPreview)
	}
	if result.RevertURL != "" {
		fmt.Fprintf(n.out, "   revert: %s\n", result.RevertURL)
	}
	fmt.Fprintf(n.out, "   waiting for a decision...\n")
}

func (n *ConsoleNotifier) Reminder(result types.DryRunResult, waited, remaining time.Duration) {
	if !n.tty {
		return
	}
	fmt.Fprintf(n.out, "vahti: still waiting for approval (%s elapsed, %s left)\n",
		waited.Round(time.Second), remaining.Round(time.Second))
}

func (n *ConsoleNotifier) Resolved(outcome types.ApprovalOutcome, waited time.Duration) {
	switch outcome {
	case types.ApprovalApproved, types.ApprovalBypassed:
		fmt.Fprintf(n.out, "vahti: %s after %s\n", outcome, waited.Round(time.Second))
	case types.ApprovalTimeout:
		fmt.Fprintf(n.out, "vahti: approval timed out after %s, operation blocked\n", waited.Round(time.Second))
	default:
		fmt.Fprintf(n.out, "vahti: %s, operation blocked\n", outcome)
	}
}
