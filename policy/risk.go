package policy

import "github.com/yairfalse/vahti/types"

// Base risk per operation type on a 0-10 scale.
var baseRisk = map[types.OperationType]float64{
	types.OpPush:            1.0,
	types.OpCheckout:        0.0,
	types.OpMerge:           3.0,
	types.OpCommitProtected: 5.0,
	types.OpRebase:          5.5,
	types.OpForcePush:       6.0,
	types.OpBranchDelete:    7.0,
	types.OpResetHard:       7.0,
	types.OpHistoryRewrite:  8.5,
}

const (
	commitBonus    = 0.2 // per commit that would be overwritten
	commitBonusCap = 2.0
	protectedFloor = 7.0 // destructive op on a protected branch
	forceFloor     = 6.0 // any true force-push
	detectionBonus = 1.5 // high-confidence automation
	detectionHigh  = 0.8
	maxRisk        = 10.0
)

// RiskScore composes the risk for one classified operation. The score
// feeds the dry-run request and the audit record; an explicit rule
// override still wins regardless of the number produced here.
func RiskScore(event *types.GitOperationEvent, detectionScore float64) float64 {
	score := baseRisk[event.Operation]

	bonus := commitBonus * float64(event.CommitDelta)
	if bonus > commitBonusCap {
		bonus = commitBonusCap
	}
	score += bonus

	// Floors apply to the destructive tier only: an ordinary commit to
	// a protected branch keeps its own base.
	if event.Operation.IsDestructive() {
		if event.Protected && score < protectedFloor {
			score = protectedFloor
		}
		if event.Operation == types.OpForcePush && score < forceFloor {
			score = forceFloor
		}
	}

	if detectionScore >= detectionHigh {
		score += detectionBonus
	}

	if score < 0 {
		return 0
	}
	if score > maxRisk {
		return maxRisk
	}
	return score
}
