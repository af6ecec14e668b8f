package types

import "fmt"

// Action is what the engine tells the hook to do with an operation.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionWarn            Action = "warn"
	ActionRequireApproval Action = "require_approval"
	ActionBlock           Action = "block"
)

// severity orders actions from most permissive to most restrictive.
// Config toggles may only move a decision toward allow, never toward block.
var severity = map[Action]int{
	ActionAllow:           0,
	ActionWarn:            1,
	ActionRequireApproval: 2,
	ActionBlock:           3,
}

// Severity returns the restrictiveness rank of the action.
// Unknown actions rank as block so nothing slips through a typo.
func (a Action) Severity() int {
	if s, ok := severity[a]; ok {
		return s
	}
	return severity[ActionBlock]
}

// Validate checks the action is one we know how to enforce.
func (a Action) Validate() error {
	switch a {
	case ActionAllow, ActionWarn, ActionRequireApproval, ActionBlock:
		return nil
	}
	return fmt.Errorf("invalid action: %s", a)
}

// EnforcementDecision is the engine's verdict for one operation.
type EnforcementDecision struct {
	Action           Action  `json:"action"`
	RequiresApproval bool    `json:"requires_approval"`
	ShouldBlock      bool    `json:"should_block"`
	Reason           string  `json:"reason,omitempty"`
	RiskScore        float64 `json:"risk_score"`
	DetectionScore   float64 `json:"detection_score"`
}

// NewDecision builds a decision with the boolean views kept consistent
// with the action. Callers must not set the booleans independently.
func NewDecision(action Action, reason string) EnforcementDecision {
	return EnforcementDecision{
		Action:           action,
		RequiresApproval: action == ActionRequireApproval,
		ShouldBlock:      action == ActionBlock,
		Reason:           reason,
	}
}

// Validate checks internal consistency of the decision.
func (d *EnforcementDecision) Validate() error {
	if err := d.Action.Validate(); err != nil {
		return err
	}
	if d.RequiresApproval != (d.Action == ActionRequireApproval) {
		return fmt.Errorf("requires_approval inconsistent with action %s", d.Action)
	}
	if d.ShouldBlock != (d.Action == ActionBlock) {
		return fmt.Errorf("should_block inconsistent with action %s", d.Action)
	}
	return nil
}

// FailMode selects behavior when the policy service cannot be reached.
type FailMode string

const (
	FailStrict     FailMode = "strict"
	FailPermissive FailMode = "permissive"
	FailGraceful   FailMode = "graceful"
)

// Validate checks the fail mode is a known one.
func (m FailMode) Validate() error {
	switch m {
	case FailStrict, FailPermissive, FailGraceful:
		return nil
	}
	return fmt.Errorf("invalid fail mode: %s", m)
}

// EnforcementMode is the top-level engine posture.
type EnforcementMode string

const (
	ModeOff     EnforcementMode = "off"
	ModeMonitor EnforcementMode = "monitor"
	ModeBlock   EnforcementMode = "block"
)

// Validate checks the enforcement mode is a known one.
func (m EnforcementMode) Validate() error {
	switch m {
	case ModeOff, ModeMonitor, ModeBlock:
		return nil
	}
	return fmt.Errorf("invalid enforcement mode: %s", m)
}
