// Package detect scores the likelihood that an automated coding agent,
// not a human, is driving the current git operation. Collection is a
// pure function of an immutable Context snapshot.
package detect

import (
	"fmt"
	"strings"

	"github.com/yairfalse/vahti/types"
)

const recentCommitWindow = 10

// Score thresholds. Monotonic: higher score never yields a softer action.
const (
	blockThreshold    = 0.8
	approvalThreshold = 0.5
	warnThreshold     = 0.3
)

type collectorFunc func(Context) *types.DetectionSignal

// Each collector contributes at most one signal so a strong marker is
// never diluted by a weak one from the same source.
var collectors = []collectorFunc{
	collectHandshake,
	collectEnv,
	collectProxy,
	collectProcess,
	collectGit,
}

// CollectSignals runs every collector against the snapshot.
func CollectSignals(dctx Context) []types.DetectionSignal {
	var signals []types.DetectionSignal
	for _, collect := range collectors {
		if sig := collect(dctx); sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals
}

// Score reduces signals to one confidence in [0,1].
func Score(signals []types.DetectionSignal) float64 {
	return types.AggregateScore(signals)
}

// ActionForScore maps a detection score to the engine action it
// suggests on its own. The policy resolver may still relax it.
func ActionForScore(score float64) types.Action {
	switch {
	case score >= blockThreshold:
		return types.ActionBlock
	case score >= approvalThreshold:
		return types.ActionRequireApproval
	case score >= warnThreshold:
		return types.ActionWarn
	default:
		return types.ActionAllow
	}
}

// envMarkers maps known agent environment variables to attribution.
type envMarker struct {
	agent      types.AgentType
	confidence float64
}

var envMarkers = map[string]envMarker{
	"CLAUDECODE":              {types.AgentClaudeCode, 1.0},
	"CLAUDE_CODE_ENTRYPOINT":  {types.AgentClaudeCode, 1.0},
	"CURSOR_TRACE_ID":         {types.AgentCursor, 1.0},
	"CURSOR_SESSION_ID":       {types.AgentCursor, 1.0},
	"AIDER_MODEL":             {types.AgentAider, 1.0},
	"AIDER_CHAT_HISTORY_FILE": {types.AgentAider, 1.0},
	"GITHUB_COPILOT_TOKEN":    {types.AgentCopilot, 1.0},
	"COPILOT_AGENT_ID":        {types.AgentCopilot, 1.0},
	// API keys in the environment are common for humans too.
	"ANTHROPIC_API_KEY": {types.AgentUnknown, 0.25},
	"OPENAI_API_KEY":    {types.AgentUnknown, 0.25},
}

func collectEnv(dctx Context) *types.DetectionSignal {
	var best *types.DetectionSignal
	for name, marker := range envMarkers {
		if dctx.Env[name] == "" {
			continue
		}
		if best == nil || marker.confidence > best.Confidence {
			best = &types.DetectionSignal{
				Source:     types.SignalEnv,
				Confidence: marker.confidence,
				Agent:      marker.agent,
				Reason:     fmt.Sprintf("environment variable %s is set", name),
			}
		}
	}
	return best
}

func collectHandshake(dctx Context) *types.DetectionSignal {
	if dctx.Handshake == nil {
		return nil
	}
	return &types.DetectionSignal{
		Source:     types.SignalHandshake,
		Confidence: 1.0,
		Agent:      agentFromString(dctx.Handshake.AgentType),
		Reason:     fmt.Sprintf("agent handshake from %s", dctx.Handshake.AgentID),
	}
}

// aiProxyDomains are API hosts whose presence in proxy settings means
// this shell is routed through an agent harness.
var aiProxyDomains = map[string]types.AgentType{
	"api.anthropic.com":                 types.AgentClaudeCode,
	"api.openai.com":                    types.AgentUnknown,
	"openrouter.ai":                     types.AgentUnknown,
	"api.githubcopilot.com":             types.AgentCopilot,
	"generativelanguage.googleapis.com": types.AgentUnknown,
}

var proxyVars = []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy", "ALL_PROXY", "all_proxy"}

func collectProxy(dctx Context) *types.DetectionSignal {
	for _, name := range proxyVars {
		value := dctx.Env[name]
		if value == "" {
			continue
		}
		for domain, agent := range aiProxyDomains {
			if strings.Contains(value, domain) {
				return &types.DetectionSignal{
					Source:     types.SignalNetwork,
					Confidence: 0.9,
					Agent:      agent,
					Reason:     fmt.Sprintf("%s points at %s", name, domain),
				}
			}
		}
	}
	return nil
}

// processMarkers match parent process or terminal program names.
var processMarkers = []struct {
	substr     string
	agent      types.AgentType
	confidence float64
}{
	{"claude", types.AgentClaudeCode, 0.9},
	{"cursor", types.AgentCursor, 0.9},
	{"aider", types.AgentAider, 0.9},
	{"copilot", types.AgentCopilot, 0.9},
	{"code", types.AgentUnknown, 0.3},
	{"codium", types.AgentUnknown, 0.3},
}

func collectProcess(dctx Context) *types.DetectionSignal {
	var best *types.DetectionSignal

	consider := func(name, where string) {
		lower := strings.ToLower(name)
		for _, m := range processMarkers {
			if !strings.Contains(lower, m.substr) {
				continue
			}
			if best == nil || m.confidence > best.Confidence {
				best = &types.DetectionSignal{
					Source:     types.SignalProcess,
					Confidence: m.confidence,
					Agent:      m.agent,
					Reason:     fmt.Sprintf("%s %q matches %q", where, name, m.substr),
				}
			}
		}
	}

	for _, proc := range dctx.ParentProcs {
		consider(proc, "parent process")
	}
	if tp := dctx.Env["TERM_PROGRAM"]; tp != "" {
		consider(tp, "terminal program")
	}
	return best
}

// gitMarkers match author names, emails, and co-author trailers.
var gitMarkers = []struct {
	substr string
	agent  types.AgentType
}{
	{"claude", types.AgentClaudeCode},
	{"anthropic", types.AgentClaudeCode},
	{"cursor", types.AgentCursor},
	{"aider", types.AgentAider},
	{"copilot", types.AgentCopilot},
	{"[bot]", types.AgentUnknown},
}

func collectGit(dctx Context) *types.DetectionSignal {
	identity := strings.ToLower(dctx.GitName + " " + dctx.GitEmail)
	for _, m := range gitMarkers {
		if strings.Contains(identity, m.substr) {
			return &types.DetectionSignal{
				Source:     types.SignalGit,
				Confidence: 0.9,
				Agent:      m.agent,
				Reason:     fmt.Sprintf("git identity matches %q", m.substr),
			}
		}
	}

	trailers := strings.ToLower(dctx.GitTrailers)
	if strings.Contains(trailers, "co-authored-by:") {
		for _, m := range gitMarkers {
			if strings.Contains(trailers, m.substr) {
				return &types.DetectionSignal{
					Source:     types.SignalGit,
					Confidence: 0.8,
					Agent:      m.agent,
					Reason:     fmt.Sprintf("recent co-author trailer matches %q", m.substr),
				}
			}
		}
	}

	for _, author := range dctx.GitAuthors {
		lower := strings.ToLower(author)
		for _, m := range gitMarkers {
			if strings.Contains(lower, m.substr) {
				return &types.DetectionSignal{
					Source:     types.SignalGit,
					Confidence: 0.5,
					Agent:      m.agent,
					Reason:     fmt.Sprintf("recent author %q matches %q", author, m.substr),
				}
			}
		}
	}
	return nil
}

func agentFromString(s string) types.AgentType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "claude-code", "claude_code", "claude":
		return types.AgentClaudeCode
	case "cursor":
		return types.AgentCursor
	case "aider":
		return types.AgentAider
	case "copilot", "github-copilot":
		return types.AgentCopilot
	default:
		return types.AgentUnknown
	}
}
