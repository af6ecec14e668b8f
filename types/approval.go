package types

import "fmt"

// ApprovalOutcome is the final state of a pending approval.
type ApprovalOutcome string

const (
	ApprovalApproved  ApprovalOutcome = "approved"
	ApprovalBypassed  ApprovalOutcome = "bypassed"
	ApprovalRejected  ApprovalOutcome = "rejected"
	ApprovalCancelled ApprovalOutcome = "cancelled"
	ApprovalTimeout   ApprovalOutcome = "timeout"
	ApprovalPending   ApprovalOutcome = "pending"
)

// Proceed reports whether the outcome lets the git operation continue.
func (o ApprovalOutcome) Proceed() bool {
	return o == ApprovalApproved || o == ApprovalBypassed
}

// Terminal reports whether the outcome ends the wait loop.
func (o ApprovalOutcome) Terminal() bool {
	return o != ApprovalPending && o != ""
}

// Validate checks the outcome is a known one.
func (o ApprovalOutcome) Validate() error {
	switch o {
	case ApprovalApproved, ApprovalBypassed, ApprovalRejected,
		ApprovalCancelled, ApprovalTimeout, ApprovalPending:
		return nil
	}
	return fmt.Errorf("invalid approval outcome: %s", o)
}

// DryRunResult is what the policy service returns for an evaluated
// operation before anything is applied.
type DryRunResult struct {
	NeedsApproval bool    `json:"needs_approval"`
	ChangeID      string  `json:"change_id,omitempty"`
	RiskScore     float64 `json:"risk_score"`
	HumanPreview  string  `json:"human_preview,omitempty"`
	RevertURL     string  `json:"revert_url,omitempty"`
}
