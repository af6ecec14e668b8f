package hook

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/yairfalse/vahti/gitx"
	"github.com/yairfalse/vahti/types"
)

// refTxOp mirrors the hook's own vocabulary for what a ref update is.
const (
	refTxBranchDelete = "branch-delete"
	refTxBranchUpdate = "branch-update"
	refTxHeadUpdate   = "head-update"
)

type refTxChange struct {
	opType string
	ref    string
	oldOid string
	newOid string
}

// runRefTx is the catch-all interception point: it fires for every ref
// mutation, including the ones no other hook sees (rebases, resets,
// amends). There is no terminal to wait at here and the update is
// already prepared, so failures block regardless of configured fail
// mode and needs-approval verdicts cannot degrade into a prompt.
func (r *Runner) runRefTx(ctx context.Context, args []string, stdin io.Reader) int {
	changes := r.refTxChanges(ctx, args, stdin)
	for _, change := range changes {
		if code := r.evaluateRefTx(ctx, change); code != ExitAllow {
			return code
		}
	}
	return ExitAllow
}

// refTxChanges normalizes both invocation shapes. The shim passes
// (operationType refName oldOid newOid); git itself passes a state
// token and streams "old new ref" lines. Only the prepared state can
// still stop the transaction.
func (r *Runner) refTxChanges(ctx context.Context, args []string, stdin io.Reader) []refTxChange {
	if len(args) >= 4 {
		return []refTxChange{{
			opType: args[0],
			ref:    args[1],
			oldOid: args[2],
			newOid: args[3],
		}}
	}

	if len(args) != 1 || args[0] != "prepared" {
		return nil
	}
	updates, err := gitx.ParseRefTxLines(stdin)
	if err != nil {
		r.logger.WithContext(ctx).Warn().Err(err).Msg("unreadable reference-transaction stdin")
		return nil
	}
	changes := make([]refTxChange, 0, len(updates))
	for _, u := range updates {
		changes = append(changes, refTxChange{
			opType: deriveRefTxOp(u),
			ref:    u.Ref,
			oldOid: u.OldSHA,
			newOid: u.NewSHA,
		})
	}
	return changes
}

func deriveRefTxOp(u gitx.RefTxUpdate) string {
	switch {
	case u.Ref == "HEAD":
		return refTxHeadUpdate
	case u.NewSHA == types.ZeroSHA:
		return refTxBranchDelete
	default:
		return refTxBranchUpdate
	}
}

// evaluateRefTx decides one ref change. Ordinary HEAD movement and
// anything off protected branches passes straight through; protected
// updates classify via the reflog hint and go through the pipeline
// with fail mode pinned to strict.
func (r *Runner) evaluateRefTx(ctx context.Context, change refTxChange) int {
	if change.opType == refTxHeadUpdate {
		return ExitAllow
	}
	if change.ref != "HEAD" && !gitx.IsBranchRef(change.ref) {
		return ExitAllow
	}
	branch := gitx.BranchFromRef(change.ref)
	if !r.cfg.IsProtected(branch) {
		return ExitAllow
	}

	var op types.OperationType
	switch change.opType {
	case refTxBranchDelete:
		op = types.OpBranchDelete
	case refTxBranchUpdate:
		var allowed bool
		op, allowed = r.inferRewrite(ctx)
		if allowed {
			return ExitAllow
		}
	default:
		r.logger.WithContext(ctx).Debug().Str("op", change.opType).Msg("unknown ref transaction operation")
		return ExitAllow
	}

	event := &types.GitOperationEvent{
		Hook:      types.HookRefTx,
		Operation: op,
		Branch:    branch,
		Ref:       change.ref,
		Repo:      r.git.RepoSlug(ctx),
		Protected: true,
		OldSHA:    change.oldOid,
		NewSHA:    change.newOid,
		CreatedAt: time.Now().UTC(),
	}
	return r.evaluate(ctx, event, evalOptions{
		failMode:    types.FailStrict,
		interactive: false,
	})
}

// inferRewrite maps the reflog action hint to an operation. The actual
// git subcommand is invisible at this layer. Forward-moving commands
// are allowed; anything unrecognized on a protected branch is treated
// as a history rewrite rather than waved through.
func (r *Runner) inferRewrite(ctx context.Context) (types.OperationType, bool) {
	action := strings.ToLower(r.git.ReflogAction())

	switch {
	case strings.Contains(action, "rebase") || r.git.RebaseInProgress(ctx):
		return types.OpRebase, false
	case strings.Contains(action, "amend"):
		return types.OpHistoryRewrite, false
	case strings.Contains(action, "reset"):
		return types.OpResetHard, false
	case strings.HasPrefix(action, "commit"),
		strings.HasPrefix(action, "merge"),
		strings.HasPrefix(action, "pull"),
		strings.HasPrefix(action, "checkout"),
		strings.HasPrefix(action, "cherry-pick"),
		strings.HasPrefix(action, "revert"),
		strings.HasPrefix(action, "fetch"),
		strings.HasPrefix(action, "clone"),
		strings.HasPrefix(action, "push"):
		return "", true
	default:
		return types.OpHistoryRewrite, false
	}
}
