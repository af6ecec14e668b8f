package types

import (
	"fmt"
	"time"
)

// HookType identifies which git lifecycle hook invoked the engine.
type HookType string

const (
	HookPrePush      HookType = "pre-push"
	HookPreCommit    HookType = "pre-commit"
	HookPostCheckout HookType = "post-checkout"
	HookRefTx        HookType = "reference-transaction"
)

// OperationType is the derived classification of what the user (or agent)
// is actually doing to the repository.
type OperationType string

const (
	OpPush            OperationType = "push"
	OpForcePush       OperationType = "force_push"
	OpBranchDelete    OperationType = "branch_delete"
	OpMerge           OperationType = "merge"
	OpCommitProtected OperationType = "commit_protected"
	OpResetHard       OperationType = "reset_hard"
	OpRebase          OperationType = "rebase"
	OpCheckout        OperationType = "checkout"
	OpHistoryRewrite  OperationType = "destructive_history_rewrite"
)

// ZeroSHA is the all-zero object id git passes for ref creation/deletion.
const ZeroSHA = "0000000000000000000000000000000000000000"

// GitOperationEvent is one hook invocation after classification.
// It is built once per process and not mutated afterwards.
type GitOperationEvent struct {
	Hook        HookType      `json:"hook"`
	Args        []string      `json:"args,omitempty"`
	Operation   OperationType `json:"operation"`
	Branch      string        `json:"branch"`
	Ref         string        `json:"ref,omitempty"`
	Remote      string        `json:"remote,omitempty"`
	RemoteURL   string        `json:"remote_url,omitempty"`
	Repo        string        `json:"repo,omitempty"`
	Protected   bool          `json:"protected"`
	CommitDelta int           `json:"commit_delta,omitempty"`
	OldSHA      string        `json:"old_sha,omitempty"`
	NewSHA      string        `json:"new_sha,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Validate ensures the event carries enough context to decide on.
func (e *GitOperationEvent) Validate() error {
	if e.Hook == "" {
		return fmt.Errorf("event hook type cannot be empty")
	}
	if e.Operation == "" {
		return fmt.Errorf("event operation cannot be empty")
	}
	return nil
}

// IsDestructive reports whether the operation can lose committed work.
func (o OperationType) IsDestructive() bool {
	switch o {
	case OpForcePush, OpBranchDelete, OpResetHard, OpHistoryRewrite:
		return true
	}
	return false
}

// Command renders a human-readable git command equivalent for fingerprinting
// and previews. It is a reconstruction, not the literal command line: hooks
// never see the invoking command.
func (e *GitOperationEvent) Command() string {
	switch e.Operation {
	case OpForcePush:
		return fmt.Sprintf("git push --force %s %s", e.Remote, e.Branch)
	case OpBranchDelete:
		return fmt.Sprintf("git push %s :%s", e.Remote, e.Branch)
	case OpResetHard:
		return fmt.Sprintf("git reset --hard %s", e.NewSHA)
	case OpRebase:
		return fmt.Sprintf("git rebase (%s)", e.Branch)
	case OpHistoryRewrite:
		return fmt.Sprintf("git history rewrite (%s)", e.Branch)
	case OpCommitProtected:
		return fmt.Sprintf("git commit (%s)", e.Branch)
	case OpMerge:
		return fmt.Sprintf("git merge -> %s", e.Branch)
	case OpCheckout:
		return fmt.Sprintf("git checkout %s", e.Ref)
	default:
		return fmt.Sprintf("git push %s %s", e.Remote, e.Branch)
	}
}
