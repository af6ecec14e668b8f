package types

import "fmt"

// SignalSource names where an agent-detection signal came from.
type SignalSource string

const (
	SignalEnv       SignalSource = "env"
	SignalProcess   SignalSource = "process"
	SignalGit       SignalSource = "git"
	SignalNetwork   SignalSource = "network"
	SignalHandshake SignalSource = "handshake"
)

// signalWeights ranks sources by trustworthiness. A handshake file the
// agent wrote itself outweighs circumstantial process-tree evidence.
var signalWeights = map[SignalSource]float64{
	SignalHandshake: 0.7,
	SignalEnv:       0.6,
	SignalNetwork:   0.4,
	SignalProcess:   0.3,
	SignalGit:       0.2,
}

// Weight returns the aggregation weight for the source, 0 for unknown.
func (s SignalSource) Weight() float64 {
	return signalWeights[s]
}

// AgentType identifies which coding agent a signal points at.
type AgentType string

const (
	AgentClaudeCode AgentType = "claude-code"
	AgentCursor     AgentType = "cursor"
	AgentAider      AgentType = "aider"
	AgentCopilot    AgentType = "copilot"
	AgentUnknown    AgentType = "unknown"
)

// DetectionSignal is one piece of evidence that an AI agent, not a
// human, is driving the git operation.
type DetectionSignal struct {
	Source     SignalSource `json:"source"`
	Confidence float64      `json:"confidence"`
	Agent      AgentType    `json:"agent,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// Validate checks the signal is well formed.
func (s *DetectionSignal) Validate() error {
	if s.Source.Weight() == 0 {
		return fmt.Errorf("unknown signal source: %s", s.Source)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal confidence %f out of range [0,1]", s.Confidence)
	}
	return nil
}

// AggregateScore combines signals into a single [0,1] score using a
// weighted average: sum(weight*confidence) / sum(weight). No signals
// means no evidence, score 0.
func AggregateScore(signals []DetectionSignal) float64 {
	var num, den float64
	for _, s := range signals {
		w := s.Source.Weight()
		num += w * s.Confidence
		den += w
	}
	if den == 0 {
		return 0
	}
	score := num / den
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// DominantAgent picks the agent named by the highest-weighted signal,
// breaking ties by confidence. Returns AgentUnknown when no signal
// names an agent.
func DominantAgent(signals []DetectionSignal) AgentType {
	best := AgentUnknown
	var bestRank float64
	for _, s := range signals {
		if s.Agent == "" || s.Agent == AgentUnknown {
			continue
		}
		rank := s.Source.Weight()*10 + s.Confidence
		if rank > bestRank {
			bestRank = rank
			best = s.Agent
		}
	}
	return best
}
