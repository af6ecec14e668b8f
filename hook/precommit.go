package hook

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/types"
)

// runPreCommit gates staged changes. The secret scan runs first and on
// any branch; only commits landing on a protected branch go through
// the full decision pipeline.
func (r *Runner) runPreCommit(ctx context.Context, _ []string, _ io.Reader) int {
	branch, err := r.git.CurrentBranch(ctx)
	if err != nil {
		r.logger.WithContext(ctx).Debug().Err(err).Msg("no current branch, likely detached HEAD")
		branch = ""
	}

	if r.scanner != nil {
		if code, blocked := r.scanSecrets(ctx, branch); blocked {
			return code
		}
	}

	if branch == "" || !r.cfg.IsProtected(branch) {
		// Commits off protected branches are not classified, only noted.
		reason := "branch not protected"
		if branch == "" {
			reason = "detached HEAD"
		}
		r.audit(audit.Record{
			Event:     audit.EventAllow,
			Hook:      string(types.HookPreCommit),
			Operation: "commit",
			Branch:    branch,
			Reason:    reason,
		})
		r.metrics.Count("decision", map[string]string{
			"action":    string(types.ActionAllow),
			"operation": "commit",
			"hook":      string(types.HookPreCommit),
		})
		return ExitAllow
	}

	event := &types.GitOperationEvent{
		Hook:      types.HookPreCommit,
		Operation: types.OpCommitProtected,
		Branch:    branch,
		Repo:      r.git.RepoSlug(ctx),
		Protected: true,
		CreatedAt: time.Now().UTC(),
	}
	return r.evaluate(ctx, event, evalOptions{interactive: true})
}

// scanSecrets blocks the commit when staged content matches credential
// patterns. The scan never talks to the service: leaked keys are a
// local fact, not a policy question.
func (r *Runner) scanSecrets(ctx context.Context, branch string) (int, bool) {
	findings, err := r.scanner.ScanStaged(ctx, r.git)
	if err != nil {
		r.logger.WithContext(ctx).Warn().Err(err).Msg("secret scan failed")
		return ExitAllow, false
	}
	if len(findings) == 0 {
		return ExitAllow, false
	}

	fmt.Fprintf(r.out, "vahti: blocked: %d potential secret(s) in staged changes\n", len(findings))
	for _, f := range findings {
		fmt.Fprintf(r.out, "   %s\n", f.String())
	}
	fmt.Fprintf(r.out, "vahti: unstage the files above or move the values out of the repository\n")

	r.audit(audit.Record{
		Event:     audit.EventBlock,
		Hook:      string(types.HookPreCommit),
		Operation: "commit",
		Branch:    branch,
		Outcome:   audit.OutcomeSecretsFound,
		Reason:    fmt.Sprintf("%d findings", len(findings)),
	})
	r.record(types.DecisionRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Hook:      types.HookPreCommit,
		Operation: "commit",
		Branch:    branch,
		Action:    types.ActionBlock,
		Reason:    "staged secrets",
		Outcome:   audit.OutcomeSecretsFound,
		ExitCode:  ExitBlock,
	})
	r.metrics.Count("secrets_blocked", map[string]string{"branch": branch})
	return ExitBlock, true
}
