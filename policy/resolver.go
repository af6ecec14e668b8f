// Package policy turns mode settings, per-operation rules, detection
// scores, and remote failures into enforcement decisions.
package policy

import (
	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/types"
)

// ModeSettings are the relaxation toggles. They can only soften a
// decision: there is no setting that escalates past what a rule or
// default already demands.
type ModeSettings struct {
	Mode            types.EnforcementMode
	BlockOperations bool
	ShowWarnings    bool
	RequireApproval bool
}

// SettingsFromConfig lifts the toggles out of the loaded config.
func SettingsFromConfig(cfg *config.Config) ModeSettings {
	return ModeSettings{
		Mode:            cfg.Mode,
		BlockOperations: cfg.BlockOperations,
		ShowWarnings:    cfg.ShowWarnings,
		RequireApproval: cfg.RequireApproval,
	}
}

// Resolve computes the effective decision for an operation. ruleAction
// is the explicit per-operation override ("" when none); defaultAction
// is what the caller computed from risk and detection.
func Resolve(mode ModeSettings, ruleAction, defaultAction types.Action) types.EnforcementDecision {
	if mode.Mode == types.ModeOff {
		return types.NewDecision(types.ActionAllow, "enforcement mode is off")
	}

	effective := defaultAction
	reason := "default action"
	if ruleAction != "" {
		effective = ruleAction
		reason = "explicit rule"
	}

	if mode.Mode == types.ModeMonitor && effective.Severity() > types.ActionWarn.Severity() {
		effective = types.ActionWarn
		reason += ", monitor mode observes only"
	}

	if !mode.BlockOperations && effective.Severity() > types.ActionWarn.Severity() {
		effective = types.ActionWarn
		reason += ", blocking disabled"
	}

	if effective == types.ActionRequireApproval && !mode.RequireApproval {
		effective = types.ActionWarn
		reason += ", approval disabled"
	}

	if effective == types.ActionWarn && !mode.ShowWarnings {
		effective = types.ActionAllow
		reason += ", warnings disabled"
	}

	return types.NewDecision(effective, reason)
}
