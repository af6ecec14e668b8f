package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/yairfalse/vahti/types"
)

func TestRiskScore_BaseByOperation(t *testing.T) {
	tests := []struct {
		op   types.OperationType
		want float64
	}{
		{types.OpPush, 1.0},
		{types.OpMerge, 3.0},
		{types.OpCommitProtected, 5.0},
		{types.OpForcePush, 6.0},
		{types.OpBranchDelete, 7.0},
		{types.OpResetHard, 7.0},
		{types.OpHistoryRewrite, 8.5},
		{types.OpCheckout, 0.0},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			event := &types.GitOperationEvent{Operation: tt.op}
			assert.InDelta(t, tt.want, RiskScore(event, 0), 0.001)
		})
	}
}

func TestRiskScore_CommitBonusCapped(t *testing.T) {
	event := &types.GitOperationEvent{Operation: types.OpForcePush, CommitDelta: 5}
	assert.InDelta(t, 7.0, RiskScore(event, 0), 0.001, "6.0 base + 5*0.2")

	event.CommitDelta = 50
	assert.InDelta(t, 8.0, RiskScore(event, 0), 0.001, "bonus caps at 2.0")
}

func TestRiskScore_ProtectedFloor(t *testing.T) {
	event := &types.GitOperationEvent{
		Operation: types.OpForcePush,
		Protected: true,
	}
	assert.InDelta(t, 7.0, RiskScore(event, 0), 0.001,
		"protected destructive op floors at 7.0")

	// Commits to protected branches keep their own base: the floor is
	// for the destructive tier.
	commit := &types.GitOperationEvent{
		Operation: types.OpCommitProtected,
		Protected: true,
	}
	assert.InDelta(t, 5.0, RiskScore(commit, 0), 0.001)
}

func TestRiskScore_DetectionBonus(t *testing.T) {
	event := &types.GitOperationEvent{Operation: types.OpForcePush}

	assert.InDelta(t, 6.0, RiskScore(event, 0.79), 0.001, "below threshold, no bonus")
	assert.InDelta(t, 7.5, RiskScore(event, 0.8), 0.001, "at threshold, +1.5")
}

func TestRiskScore_Clamped(t *testing.T) {
	event := &types.GitOperationEvent{
		Operation:   types.OpHistoryRewrite,
		Protected:   true,
		CommitDelta: 100,
	}
	score := RiskScore(event, 1.0)
	assert.LessOrEqual(t, score, 10.0)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestActionForFailure(t *testing.T) {
	tests := []struct {
		name string
		mode types.FailMode
		kind types.ErrorKind
		want types.Action
	}{
		{"strict blocks on timeout", types.FailStrict, types.ErrKindTimeout, types.ActionBlock},
		{"strict blocks on network", types.FailStrict, types.ErrKindNetwork, types.ActionBlock},
		{"permissive warns on forbidden", types.FailPermissive, types.ErrKindForbidden, types.ActionWarn},
		{"graceful blocks on forbidden", types.FailGraceful, types.ErrKindForbidden, types.ActionBlock},
		{"graceful warns on server error", types.FailGraceful, types.ErrKindServerError, types.ActionWarn},
		{"graceful warns on network", types.FailGraceful, types.ErrKindNetwork, types.ActionWarn},
		{"graceful warns on timeout", types.FailGraceful, types.ErrKindTimeout, types.ActionWarn},
		{"graceful warns on unknown kind", types.FailGraceful, types.ErrorKind("dns_poison"), types.ActionWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ActionForFailure(tt.mode, tt.kind)
			assert.Equal(t, tt.want, resp.Action)
			assert.NotEmpty(t, resp.Message)
		})
	}
}
