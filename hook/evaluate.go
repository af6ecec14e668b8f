package hook

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/detect"
	"github.com/yairfalse/vahti/opcache"
	"github.com/yairfalse/vahti/policy"
	"github.com/yairfalse/vahti/policyservice"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// evalOptions tune the pipeline per hook. Reference-transaction hooks
// run after git has already prepared the update, so they cannot stop
// and wait for a human: interactive is false and failures block.
type evalOptions struct {
	failMode    types.FailMode
	interactive bool
}

// evaluation carries the derived state of one event through the
// pipeline so every terminal path books the same facts.
type evaluation struct {
	event       *types.GitOperationEvent
	command     string
	fingerprint string
	risk        float64
	detection   float64
	agent       types.AgentType
	changeID    string
}

// verdict is one terminal outcome of the pipeline. An empty cache
// result means the verdict is not memoized: a service failure is not
// a decision about the operation.
type verdict struct {
	action  types.Action
	event   string
	outcome string
	reason  string
	cache   opcache.Result
	exit    int
}

// evaluate runs one classified event through cache, detection, policy
// resolution and, when required, the policy service and approval flow.
// It returns the process exit code; every path out of here has written
// exactly one audit record.
func (r *Runner) evaluate(ctx context.Context, event *types.GitOperationEvent, opts evalOptions) int {
	ctx, span := r.tracer.Start(ctx, "hook.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("operation", string(event.Operation)),
		attribute.String("branch", event.Branch),
	)

	ev := &evaluation{
		event:   event,
		command: event.Command(),
	}
	ev.fingerprint = opcache.Fingerprint(event.Hook, ev.command, map[string]string{
		"branch": event.Branch,
		"remote": event.Remote,
		"repo":   event.Repo,
	})

	// 1. Cache. A fresh verdict for the same operation short-circuits
	// everything, including the service call.
	if code, hit := r.checkCache(ctx, ev); hit {
		return code
	}

	// 2. Detection. Who is driving: a human or an agent.
	if r.cfg.Detection.Enabled {
		ev.detection, ev.agent = r.detectAgent(ctx)
	}
	ev.risk = policy.RiskScore(event, ev.detection)

	// 3. Resolution. Explicit rule beats rego override beats computed
	// default; mode caps apply on top.
	ruleAction, ruleReason := r.resolveRule(ctx, ev)
	defaultAction := defaultActionFor(event)
	if esc := detect.ActionForScore(ev.detection); esc.Severity() > defaultAction.Severity() {
		defaultAction = esc
	}
	decision := policy.Resolve(policy.SettingsFromConfig(r.cfg), ruleAction, defaultAction)
	if ruleReason != "" && ruleAction != "" {
		decision.Reason = ruleReason
	}
	decision.RiskScore = ev.risk
	decision.DetectionScore = ev.detection

	// CI runners force-push and delete branches as routine automation,
	// and nobody is there to answer an approval prompt. The exemption
	// downgrades to a warning so the operation still lands in the audit
	// trail.
	if decision.Action == types.ActionRequireApproval && r.ciExempt(event) {
		decision.Action = types.ActionWarn
		decision.Reason = "CI environment is exempt from approval"
	}

	// 4. Act.
	switch decision.Action {
	case types.ActionAllow:
		return r.settle(ctx, ev, verdict{
			action: types.ActionAllow,
			event:  audit.EventAllow,
			reason: decision.Reason,
			cache:  opcache.ResultSafe,
			exit:   ExitAllow,
		})
	case types.ActionWarn:
		fmt.Fprintf(r.out, "vahti: warning: %s\n", warnLine(event, decision.Reason))
		return r.settle(ctx, ev, verdict{
			action: types.ActionWarn,
			event:  audit.EventWarn,
			reason: decision.Reason,
			cache:  opcache.ResultUnknown,
			exit:   ExitAllow,
		})
	case types.ActionBlock:
		fmt.Fprintf(r.out, "vahti: blocked: %s\n", warnLine(event, decision.Reason))
		return r.settle(ctx, ev, verdict{
			action: types.ActionBlock,
			event:  audit.EventBlock,
			reason: decision.Reason,
			cache:  opcache.ResultDangerous,
			exit:   ExitBlock,
		})
	default:
		return r.requireApproval(ctx, ev, decision, opts)
	}
}

// checkCache returns a terminal exit code when a fresh cached verdict
// covers this fingerprint. Unknown entries only dampen duplicate
// service calls for warns; they never settle anything, so they read
// as a miss here.
func (r *Runner) checkCache(ctx context.Context, ev *evaluation) (int, bool) {
	entry, ok := r.cache.Get(ev.fingerprint)
	if !ok || entry.Result == opcache.ResultUnknown {
		telemetry.CacheMisses.Add(ctx, 1)
		return 0, false
	}
	telemetry.CacheHits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", string(entry.Result))))
	r.logger.LogCacheHit(ctx, ev.fingerprint, string(entry.Result))
	r.metrics.Count("cache_hit", map[string]string{"result": string(entry.Result)})

	if entry.Result == opcache.ResultSafe {
		return r.settle(ctx, ev, verdict{
			action:  types.ActionAllow,
			event:   audit.EventAllow,
			outcome: audit.OutcomeCached,
			reason:  "recently approved",
			exit:    ExitAllow,
		}), true
	}
	fmt.Fprintf(r.out, "vahti: blocked: %s was rejected moments ago\n", ev.command)
	return r.settle(ctx, ev, verdict{
		action:  types.ActionBlock,
		event:   audit.EventBlock,
		outcome: audit.OutcomeCached,
		reason:  "recently rejected",
		exit:    ExitBlock,
	}), true
}

// detectAgent snapshots the environment and scores it.
func (r *Runner) detectAgent(ctx context.Context) (float64, types.AgentType) {
	handshake := r.cfg.Detection.HandshakeFile
	if handshake == "" {
		handshake = detect.DefaultHandshakePath
	}
	if !filepath.IsAbs(handshake) {
		if gitDir, err := r.git.GitDir(ctx); err == nil {
			handshake = filepath.Join(gitDir, handshake)
		}
	}

	dctx := detect.Snapshot(ctx, r.git, handshake)
	signals := detect.CollectSignals(dctx)
	score := detect.Score(signals)
	telemetry.DetectionScore.Record(ctx, score)
	return score, types.DominantAgent(signals)
}

// resolveRule finds the strongest explicit instruction for this event:
// a config rule if one matches, otherwise the rego override verdict.
func (r *Runner) resolveRule(ctx context.Context, ev *evaluation) (types.Action, string) {
	if action, ok := r.cfg.RuleFor(ev.event.Operation, ev.event.Branch); ok {
		return action, fmt.Sprintf("rule for %s", ev.event.Operation)
	}
	if r.override == nil || r.override.Empty() {
		return "", ""
	}
	result, err := r.override.Evaluate(ctx, policy.OverrideInput{
		Hook:           ev.event.Hook,
		Operation:      ev.event.Operation,
		Branch:         ev.event.Branch,
		Remote:         ev.event.Remote,
		Repo:           ev.event.Repo,
		Protected:      ev.event.Protected,
		CommitDelta:    ev.event.CommitDelta,
		RiskScore:      ev.risk,
		DetectionScore: ev.detection,
		Agent:          ev.agent,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		// A broken user policy falls through to defaults rather than
		// deciding anything.
		r.logger.WithContext(ctx).Warn().Err(err).Msg("override evaluation failed")
		return "", ""
	}
	if !result.Found() {
		return "", ""
	}
	reason := result.Reason
	if reason == "" {
		reason = fmt.Sprintf("override policy %s", strings.Join(result.Matched, ","))
	}
	return result.Action, reason
}

// requireApproval sends the operation to the policy service for a dry
// run and, when the service wants a human, hands off to the approval
// coordinator. Service failures resolve through the fail mode.
func (r *Runner) requireApproval(ctx context.Context, ev *evaluation, decision types.EnforcementDecision, opts evalOptions) int {
	req := policyservice.DryRunRequest{
		OperationType:    ev.event.Operation,
		Target:           ev.event.Branch,
		Command:          ev.command,
		RiskScore:        ev.risk,
		HumanPreview:     humanPreview(ev.event),
		RequiresApproval: true,
		Reasons:          approvalReasons(ev, decision),
		Metadata: map[string]string{
			"hook":   string(ev.event.Hook),
			"repo":   ev.event.Repo,
			"remote": ev.event.Remote,
			"agent":  string(ev.agent),
		},
	}

	result, err := r.service.DryRun(ctx, req)
	if err != nil {
		return r.settleServiceFailure(ctx, ev, err, opts)
	}
	ev.changeID = result.ChangeID

	if !result.NeedsApproval {
		return r.settle(ctx, ev, verdict{
			action: types.ActionAllow,
			event:  audit.EventAllow,
			reason: "api_auto_execute",
			cache:  opcache.ResultSafe,
			exit:   ExitAllow,
		})
	}

	if !opts.interactive {
		fmt.Fprintf(r.out, "vahti: blocked: %s requires approval and this hook cannot wait for one\n", humanPreview(ev.event))
		fmt.Fprintf(r.out, "vahti: re-run the operation as a push, or approve change %s first\n", result.ChangeID)
		return r.settle(ctx, ev, verdict{
			action:  types.ActionBlock,
			event:   audit.EventBlock,
			outcome: "approval_unavailable",
			reason:  "approval required outside an interactive session",
			cache:   opcache.ResultDangerous,
			exit:    ExitBlock,
		})
	}

	r.audit(audit.Record{
		Event:          audit.EventApprovalRequested,
		Hook:           string(ev.event.Hook),
		Operation:      string(ev.event.Operation),
		Repo:           ev.event.Repo,
		Branch:         ev.event.Branch,
		ChangeID:       result.ChangeID,
		RiskScore:      ev.risk,
		DetectionScore: ev.detection,
		Fingerprint:    ev.fingerprint,
	})

	outcome := r.approver.RequestApproval(ctx, result)
	if outcome.Proceed() {
		event := audit.EventAllow
		if outcome == types.ApprovalBypassed {
			event = audit.EventBypass
		}
		return r.settle(ctx, ev, verdict{
			action:  types.ActionAllow,
			event:   event,
			outcome: string(outcome),
			reason:  "approval granted",
			cache:   opcache.ResultSafe,
			exit:    ExitAllow,
		})
	}
	fmt.Fprintf(r.out, "vahti: blocked: approval %s\n", outcome)
	return r.settle(ctx, ev, verdict{
		action:  types.ActionBlock,
		event:   audit.EventBlock,
		outcome: string(outcome),
		reason:  fmt.Sprintf("approval %s", outcome),
		cache:   opcache.ResultDangerous,
		exit:    ExitBlock,
	})
}

// settleServiceFailure resolves a dry-run failure through the fail
// mode. The verdict is never cached: an outage memoized as safe or
// dangerous would outlive the outage.
func (r *Runner) settleServiceFailure(ctx context.Context, ev *evaluation, err error, opts evalOptions) int {
	kind := policyservice.KindOf(err)
	mode := opts.failMode
	if mode == "" {
		mode = r.cfg.FailMode
	}
	resp := policy.ActionForFailure(mode, kind)
	r.metrics.Count("service_error", map[string]string{"kind": string(kind)})

	if resp.Action == types.ActionBlock {
		fmt.Fprintf(r.out, "vahti: blocked: %s\n", resp.Message)
		return r.settle(ctx, ev, verdict{
			action:  types.ActionBlock,
			event:   audit.EventError,
			outcome: audit.OutcomeBlockedAPIError,
			reason:  resp.Message,
			exit:    ExitBlock,
		})
	}
	fmt.Fprintf(r.out, "vahti: warning: %s\n", resp.Message)
	return r.settle(ctx, ev, verdict{
		action:  types.ActionWarn,
		event:   audit.EventError,
		outcome: "allowed_api_error",
		reason:  resp.Message,
		exit:    ExitAllow,
	})
}

// settle books one terminal verdict everywhere it needs to land: the
// audit log, the metrics stream, the history store, the cache, and
// the structured log. Returns the exit code for the hook process.
func (r *Runner) settle(ctx context.Context, ev *evaluation, v verdict) int {
	r.logger.LogDecision(ctx, string(ev.event.Operation), ev.event.Branch,
		string(v.action), v.reason, ev.risk, ev.detection)
	telemetry.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(v.action)),
		attribute.String("operation", string(ev.event.Operation)),
	))
	r.metrics.Count("decision", map[string]string{
		"action":    string(v.action),
		"operation": string(ev.event.Operation),
		"hook":      string(ev.event.Hook),
	})

	r.audit(audit.Record{
		Event:          v.event,
		Hook:           string(ev.event.Hook),
		Operation:      string(ev.event.Operation),
		Repo:           ev.event.Repo,
		Branch:         ev.event.Branch,
		Outcome:        v.outcome,
		Reason:         v.reason,
		ChangeID:       ev.changeID,
		RiskScore:      ev.risk,
		DetectionScore: ev.detection,
		Fingerprint:    ev.fingerprint,
	})

	r.record(types.DecisionRecord{
		ID:             uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		Hook:           ev.event.Hook,
		Operation:      ev.event.Operation,
		Repo:           ev.event.Repo,
		Branch:         ev.event.Branch,
		Action:         v.action,
		Reason:         v.reason,
		RiskScore:      ev.risk,
		DetectionScore: ev.detection,
		Agent:          ev.agent,
		Fingerprint:    ev.fingerprint,
		ChangeID:       ev.changeID,
		Outcome:        v.outcome,
		ExitCode:       v.exit,
	})

	if v.cache != "" {
		if err := r.cache.Set(ev.fingerprint, v.cache, r.cacheTTL(v.cache)); err != nil {
			r.logger.Warn().Err(err).Msg("cache write failed")
		}
	}
	return v.exit
}

// cacheTTL honors the configured TTLs, falling back to the cache
// package defaults when unset.
func (r *Runner) cacheTTL(result opcache.Result) time.Duration {
	ms := r.cfg.Cache.DangerousTTLMs
	if result == opcache.ResultSafe {
		ms = r.cfg.Cache.SafeTTLMs
	}
	if ms <= 0 {
		return opcache.DefaultTTL(result)
	}
	return time.Duration(ms) * time.Millisecond
}

// defaultActionFor is the computed action before rules, overrides,
// detection escalation and mode caps weigh in.
func defaultActionFor(event *types.GitOperationEvent) types.Action {
	if event.Operation.IsDestructive() {
		return types.ActionRequireApproval
	}
	switch event.Operation {
	case types.OpCommitProtected, types.OpRebase:
		return types.ActionRequireApproval
	case types.OpPush, types.OpMerge:
		if event.Protected {
			return types.ActionRequireApproval
		}
	}
	return types.ActionAllow
}

// humanPreview renders the one-line description shown in approval
// prompts and sent to the policy service.
func humanPreview(event *types.GitOperationEvent) string {
	switch event.Operation {
	case types.OpForcePush:
		if event.CommitDelta == 1 {
			return fmt.Sprintf("force push to %s (1 commit would be overwritten)", event.Branch)
		}
		if event.CommitDelta > 1 {
			return fmt.Sprintf("force push to %s (%d commits would be overwritten)", event.Branch, event.CommitDelta)
		}
		return fmt.Sprintf("force push to %s", event.Branch)
	case types.OpBranchDelete:
		return fmt.Sprintf("delete branch %s", event.Branch)
	case types.OpMerge:
		return fmt.Sprintf("merge into %s", event.Branch)
	case types.OpCommitProtected:
		return fmt.Sprintf("commit directly to %s", event.Branch)
	case types.OpResetHard:
		return fmt.Sprintf("hard reset of %s", event.Branch)
	case types.OpHistoryRewrite:
		return fmt.Sprintf("history rewrite on %s", event.Branch)
	case types.OpRebase:
		return fmt.Sprintf("rebase of %s", event.Branch)
	default:
		return fmt.Sprintf("push to %s", event.Branch)
	}
}

// warnLine folds the preview and the policy reason into one message.
func warnLine(event *types.GitOperationEvent, reason string) string {
	preview := humanPreview(event)
	if reason == "" {
		return preview
	}
	return fmt.Sprintf("%s (%s)", preview, reason)
}

// approvalReasons lists why this operation went to the service.
func approvalReasons(ev *evaluation, decision types.EnforcementDecision) []string {
	reasons := []string{decision.Reason}
	if ev.event.Protected {
		reasons = append(reasons, fmt.Sprintf("%s is a protected branch", ev.event.Branch))
	}
	if ev.event.Operation.IsDestructive() {
		reasons = append(reasons, "operation can lose committed work")
	}
	if ev.agent != "" && ev.agent != types.AgentUnknown {
		reasons = append(reasons, fmt.Sprintf("driven by %s (confidence %.2f)", ev.agent, ev.detection))
	}
	return reasons
}
