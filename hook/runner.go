// Package hook dispatches git hook invocations to their handlers and
// drives the shared decision pipeline: classify, consult cache, detect
// agents, resolve policy, and when policy demands it, run the operation
// past the policy service and the approval coordinator.
//
// A hook process is short-lived. Everything here is built per
// invocation from config, does its one job, flushes, and exits with
// the code git expects: 0 to let the operation proceed, 1 to stop it.
package hook

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vahti/approval"
	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/history"
	"github.com/yairfalse/vahti/metrics"
	"github.com/yairfalse/vahti/opcache"
	"github.com/yairfalse/vahti/policy"
	"github.com/yairfalse/vahti/policyservice"
	"github.com/yairfalse/vahti/secrets"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// Exit codes returned to git.
const (
	ExitAllow = 0
	ExitBlock = 1
)

// Git is the slice of repository state the handlers read.
// *gitx.Repo satisfies it; tests substitute a fake.
type Git interface {
	CurrentBranch(ctx context.Context) (string, error)
	GitDir(ctx context.Context) (string, error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	CountCommits(ctx context.Context, exclude, include string) (int, error)
	MergeParentCount(ctx context.Context, sha string) (int, error)
	RepoSlug(ctx context.Context) string
	StagedFiles(ctx context.Context) ([]string, error)
	StagedContent(ctx context.Context, path string) ([]byte, error)
	Identity(ctx context.Context) (name, email string)
	RecentAuthors(ctx context.Context, n int) ([]string, error)
	RecentTrailers(ctx context.Context, n int) (string, error)
	ReflogAction() string
	RebaseInProgress(ctx context.Context) bool
}

// PolicyService is the remote dry-run surface the pipeline consults.
// *policyservice.Client satisfies it.
type PolicyService interface {
	DryRun(ctx context.Context, req policyservice.DryRunRequest) (types.DryRunResult, error)
}

// Approver waits for a human verdict on a change that needs one.
// *approval.Coordinator satisfies it.
type Approver interface {
	RequestApproval(ctx context.Context, result types.DryRunResult) types.ApprovalOutcome
}

type handlerFunc func(ctx context.Context, args []string, stdin io.Reader) int

// Runner owns one hook invocation end to end.
type Runner struct {
	cfg      *config.Config
	git      Git
	service  PolicyService
	approver Approver
	cache    *opcache.Cache
	scanner  *secrets.Scanner
	override *policy.OverrideEngine
	auditLog *audit.Log
	hist     *history.Store
	metrics  *metrics.Collector
	logger   *telemetry.Logger
	tracer   trace.Tracer
	out      io.Writer
	env      func(string) string
	handlers map[types.HookType]handlerFunc
}

// NewRunner wires a runner from config. The service client, approval
// coordinator, cache, secret scanner, override engine, audit log,
// history store and metrics collector are all built here; use the
// WithX methods to substitute pieces in tests.
func NewRunner(ctx context.Context, cfg *config.Config, git Git, logger *telemetry.Logger) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		git:    git,
		logger: logger,
		tracer: otel.Tracer("hook"),
		out:    os.Stderr,
		env:    os.Getenv,
	}
	r.handlers = map[types.HookType]handlerFunc{
		types.HookPrePush:      r.runPrePush,
		types.HookPreCommit:    r.runPreCommit,
		types.HookPostCheckout: r.runPostCheckout,
		types.HookRefTx:        r.runRefTx,
	}

	client := policyservice.New(cfg.Service, logger)
	r.service = client
	r.approver = approval.NewCoordinator(cfg.Approval, client, approval.NewConsoleNotifier(), logger)

	stateDir, err := r.stateDir(ctx)
	if err != nil {
		return nil, err
	}

	cache, err := opcache.New(dirOr(cfg.Cache.Dir, filepath.Join(stateDir, "cache")))
	if err != nil {
		return nil, fmt.Errorf("open operation cache: %w", err)
	}
	r.cache = cache

	if cfg.Secrets.Enabled {
		scanner, err := secrets.NewScanner(cfg.Secrets, logger)
		if err != nil {
			return nil, err
		}
		r.scanner = scanner
	}

	r.override = policy.NewOverrideEngine(logger)
	if cfg.PolicyDir != "" {
		if err := r.override.LoadDir(ctx, cfg.PolicyDir); err != nil {
			return nil, fmt.Errorf("load override policies: %w", err)
		}
	}

	auditLog, err := audit.Open(dirOr(cfg.Audit.Dir, filepath.Join(stateDir, "audit")))
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	r.auditLog = auditLog

	histPath := cfg.History.Path
	if histPath == "" {
		histPath = filepath.Join(stateDir, "history.db")
	}
	hist, err := history.Open(histPath)
	if err != nil {
		// History is an offline convenience; a locked or corrupt store
		// must not stop the hook from enforcing.
		logger.Warn().Err(err).Str("path", histPath).Msg("history store unavailable")
	} else {
		r.hist = hist
	}

	mcfg := cfg.Metrics
	if mcfg.Enabled && mcfg.Dir == "" && mcfg.PushgatewayURL == "" {
		mcfg.Dir = filepath.Join(stateDir, "metrics")
	}
	r.metrics = metrics.FromConfig(mcfg, logger)
	return r, nil
}

// WithService replaces the policy service client.
func (r *Runner) WithService(s PolicyService) *Runner {
	r.service = s
	return r
}

// WithApprover replaces the approval coordinator.
func (r *Runner) WithApprover(a Approver) *Runner {
	r.approver = a
	return r
}

// WithOutput redirects user-facing hook output.
func (r *Runner) WithOutput(w io.Writer) *Runner {
	r.out = w
	return r
}

// WithEnv replaces environment lookup.
func (r *Runner) WithEnv(env func(string) string) *Runner {
	r.env = env
	return r
}

// Run executes one hook invocation and returns the process exit code.
// Unknown hook types are no-ops, and any panic inside a handler is
// swallowed into exit 0: the engine failing must never brick git.
func (r *Runner) Run(ctx context.Context, hookName string, args []string, stdin io.Reader) (code int) {
	start := time.Now()
	hookType := types.HookType(hookName)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithContext(ctx).Error().Interface("panic", rec).Str("hook", hookName).Msg("hook handler panicked")
			code = ExitAllow
		}
		telemetry.HookDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("hook", hookName)))
		r.flush(ctx)
	}()

	handler, ok := r.handlers[hookType]
	if !ok {
		r.logger.WithContext(ctx).Debug().Str("hook", hookName).Msg("unknown hook type, ignoring")
		return ExitAllow
	}

	r.logger.LogHookStart(ctx, hookName, args)
	telemetry.HookInvocations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("hook", hookName)))
	r.metrics.Count("hook_invocation", map[string]string{"hook": hookName})

	if event, reason := r.bypass(hookType); event != "" {
		fmt.Fprintf(r.out, "vahti: %s\n", reason)
		r.audit(audit.Record{
			Event:   event,
			Hook:    string(hookType),
			Outcome: reason,
		})
		r.metrics.Count("bypass", map[string]string{"hook": hookName, "reason": reason})
		return ExitAllow
	}

	return handler(ctx, args, stdin)
}

// Close releases the runner's stores. Safe on a partially built runner.
func (r *Runner) Close() error {
	var first error
	if r.metrics != nil {
		if err := r.metrics.Close(); err != nil && first == nil {
			first = err
		}
	}
	if r.auditLog != nil {
		if err := r.auditLog.Close(); err != nil && first == nil {
			first = err
		}
	}
	if r.hist != nil {
		if err := r.hist.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// bypass checks the opt-in escape hatch. A non-empty event means the
// invocation skips enforcement and is audited under that event.
func (r *Runner) bypass(hookType types.HookType) (event, reason string) {
	if hookType == types.HookPostCheckout {
		// Observation-only hook, nothing to bypass.
		return "", ""
	}
	if r.cfg.BypassEnvAllowed && r.env("VAHTI_BYPASS") == "1" {
		return audit.EventBypass, "bypass requested via VAHTI_BYPASS"
	}
	return "", ""
}

// ciVars are the markers of the CI systems vahti recognizes. All of
// them are set to "true" by their runners; Jenkins sets JENKINS_URL
// to the controller address instead.
var ciVars = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE"}

// ciExempt reports whether this event skips the approval round-trip
// because it is routine push automation under CI. Commits and history
// rewrites keep full enforcement even there.
func (r *Runner) ciExempt(event *types.GitOperationEvent) bool {
	if !r.cfg.CIExempt || !pushType(event.Operation) {
		return false
	}
	return r.inCI()
}

func (r *Runner) inCI() bool {
	for _, v := range ciVars {
		if r.env(v) == "true" {
			return true
		}
	}
	return r.env("JENKINS_URL") != ""
}

func pushType(op types.OperationType) bool {
	switch op {
	case types.OpPush, types.OpForcePush, types.OpBranchDelete, types.OpMerge:
		return true
	}
	return false
}

// stateDir is where per-repo caches and logs live when config does not
// pin them elsewhere: <git dir>/vahti.
func (r *Runner) stateDir(ctx context.Context) (string, error) {
	gitDir, err := r.git.GitDir(ctx)
	if err != nil {
		return "", fmt.Errorf("locate git dir: %w", err)
	}
	return filepath.Join(gitDir, "vahti"), nil
}

// audit writes one record, logging instead of failing when the log is
// unavailable. Enforcement never fails on bookkeeping.
func (r *Runner) audit(rec audit.Record) {
	if r.auditLog == nil {
		return
	}
	if err := r.auditLog.Append(rec); err != nil {
		r.logger.Warn().Err(err).Msg("audit append failed")
	}
}

// record persists the decision to the local history store.
func (r *Runner) record(rec types.DecisionRecord) {
	if r.hist == nil {
		return
	}
	if err := r.hist.Record(rec); err != nil {
		r.logger.Warn().Err(err).Msg("history record failed")
	}
}

func (r *Runner) flush(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	r.metrics.Flush(flushCtx)
}

func dirOr(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
