package types

import (
	"testing"
)

func TestEnforcementDecision_Validate(t *testing.T) {
	tests := []struct {
		name     string
		decision EnforcementDecision
		wantErr  bool
	}{
		{
			name:     "valid allow decision",
			decision: NewDecision(ActionAllow, "safe operation"),
			wantErr:  false,
		},
		{
			name:     "valid block decision",
			decision: NewDecision(ActionBlock, "force push to protected branch"),
			wantErr:  false,
		},
		{
			name:     "valid approval decision",
			decision: NewDecision(ActionRequireApproval, "high risk"),
			wantErr:  false,
		},
		{
			name: "invalid - unknown action",
			decision: EnforcementDecision{
				Action: Action("maybe"),
			},
			wantErr: true,
		},
		{
			name: "invalid - should_block contradicts action",
			decision: EnforcementDecision{
				Action:      ActionWarn,
				ShouldBlock: true,
			},
			wantErr: true,
		},
		{
			name: "invalid - requires_approval contradicts action",
			decision: EnforcementDecision{
				Action:           ActionAllow,
				RequiresApproval: true,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decision.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewDecision(t *testing.T) {
	tests := []struct {
		name             string
		action           Action
		requiresApproval bool
		shouldBlock      bool
	}{
		{name: "allow", action: ActionAllow},
		{name: "warn", action: ActionWarn},
		{name: "require_approval", action: ActionRequireApproval, requiresApproval: true},
		{name: "block", action: ActionBlock, shouldBlock: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecision(tt.action, "reason")
			if d.RequiresApproval != tt.requiresApproval {
				t.Errorf("RequiresApproval = %v, want %v", d.RequiresApproval, tt.requiresApproval)
			}
			if d.ShouldBlock != tt.shouldBlock {
				t.Errorf("ShouldBlock = %v, want %v", d.ShouldBlock, tt.shouldBlock)
			}
		})
	}
}

func TestAction_Severity(t *testing.T) {
	// Ordering matters more than the numbers.
	if !(ActionAllow.Severity() < ActionWarn.Severity()) {
		t.Error("allow should rank below warn")
	}
	if !(ActionWarn.Severity() < ActionRequireApproval.Severity()) {
		t.Error("warn should rank below require_approval")
	}
	if !(ActionRequireApproval.Severity() < ActionBlock.Severity()) {
		t.Error("require_approval should rank below block")
	}
	if Action("bogus").Severity() != ActionBlock.Severity() {
		t.Error("unknown action should rank as block")
	}
}

func TestFailMode_Validate(t *testing.T) {
	for _, m := range []FailMode{FailStrict, FailPermissive, FailGraceful} {
		if err := m.Validate(); err != nil {
			t.Errorf("Validate(%s) unexpected error: %v", m, err)
		}
	}
	if err := FailMode("loose").Validate(); err == nil {
		t.Error("Validate() should reject unknown fail mode")
	}
}

func TestEnforcementMode_Validate(t *testing.T) {
	for _, m := range []EnforcementMode{ModeOff, ModeMonitor, ModeBlock} {
		if err := m.Validate(); err != nil {
			t.Errorf("Validate(%s) unexpected error: %v", m, err)
		}
	}
	if err := EnforcementMode("audit").Validate(); err == nil {
		t.Error("Validate() should reject unknown enforcement mode")
	}
}
