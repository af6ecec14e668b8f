package types

import (
	"fmt"
	"time"
)

// DecisionRecord is one enforcement decision as persisted in the local
// history store. One record per hook invocation that reached a verdict.
type DecisionRecord struct {
	ID             string        `json:"id"`
	Timestamp      time.Time     `json:"timestamp"`
	Hook           HookType      `json:"hook"`
	Operation      OperationType `json:"operation"`
	Repo           string        `json:"repo,omitempty"`
	Branch         string        `json:"branch"`
	Action         Action        `json:"action"`
	Reason         string        `json:"reason,omitempty"`
	RiskScore      float64       `json:"risk_score"`
	DetectionScore float64       `json:"detection_score"`
	Agent          AgentType     `json:"agent,omitempty"`
	Fingerprint    string        `json:"fingerprint,omitempty"`
	ChangeID       string        `json:"change_id,omitempty"`
	Outcome        string        `json:"outcome,omitempty"`
	ExitCode       int           `json:"exit_code"`
}

// Validate ensures the record can be keyed and queried.
func (r *DecisionRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("decision record ID cannot be empty")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("decision record timestamp cannot be zero")
	}
	if err := r.Action.Validate(); err != nil {
		return fmt.Errorf("decision record: %w", err)
	}
	return nil
}

// DecisionQuery filters history lookups. Zero values match everything.
type DecisionQuery struct {
	Repo      string
	Branch    string
	Operation OperationType
	Action    Action
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Matches reports whether the record passes the query filters.
// Time bounds are handled by the store's key scan, not here.
func (q *DecisionQuery) Matches(r *DecisionRecord) bool {
	if q.Repo != "" && r.Repo != q.Repo {
		return false
	}
	if q.Branch != "" && r.Branch != q.Branch {
		return false
	}
	if q.Operation != "" && r.Operation != q.Operation {
		return false
	}
	if q.Action != "" && r.Action != q.Action {
		return false
	}
	return true
}
