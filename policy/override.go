package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OverrideInput is the document handed to Rego policies.
type OverrideInput struct {
	Hook           types.HookType      `json:"hook"`
	Operation      types.OperationType `json:"operation"`
	Branch         string              `json:"branch"`
	Remote         string              `json:"remote,omitempty"`
	Repo           string              `json:"repo,omitempty"`
	Protected      bool                `json:"protected"`
	CommitDelta    int                 `json:"commit_delta"`
	RiskScore      float64             `json:"risk_score"`
	DetectionScore float64             `json:"detection_score"`
	Agent          types.AgentType     `json:"agent,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// OverrideResult is the aggregated verdict from local Rego policies.
type OverrideResult struct {
	Action  types.Action
	Reason  string
	Matched []string
}

// Found reports whether any policy produced an action.
func (r *OverrideResult) Found() bool {
	return r.Action != ""
}

// OverrideEngine evaluates user-supplied Rego policies as a
// programmable layer between config rules and computed defaults.
// Policies live as .rego files declaring `package vahti`.
type OverrideEngine struct {
	logger  *telemetry.Logger
	tracer  trace.Tracer
	queries map[string]rego.PreparedEvalQuery
}

// NewOverrideEngine creates an empty engine.
func NewOverrideEngine(logger *telemetry.Logger) *OverrideEngine {
	return &OverrideEngine{
		logger:  logger,
		tracer:  otel.Tracer("policy-override"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// Empty reports whether any policy is loaded.
func (e *OverrideEngine) Empty() bool {
	return len(e.queries) == 0
}

// LoadDir compiles every .rego file under dir. A missing directory is
// not an error: most repositories carry no overrides.
func (e *OverrideEngine) LoadDir(ctx context.Context, dir string) error {
	ctx, span := e.tracer.Start(ctx, "policy_override.load_dir",
		trace.WithAttributes(attribute.String("policy.dir", dir)))
	defer span.End()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".rego") {
			return nil
		}
		content, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		name := strings.TrimSuffix(filepath.Base(path), ".rego")
		return e.LoadPolicy(ctx, name, string(content))
	})
}

// LoadPolicy compiles one Rego module.
func (e *OverrideEngine) LoadPolicy(ctx context.Context, name, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy_override.load_policy",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query("data.vahti"),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	e.queries[name] = prepared

	e.logger.WithContext(ctx).Debug().
		Str("policy_name", name).
		Msg("override policy loaded")

	return nil
}

// Evaluate runs every loaded policy against the input and aggregates
// by severity: the most restrictive action wins.
func (e *OverrideEngine) Evaluate(ctx context.Context, input OverrideInput) (OverrideResult, error) {
	ctx, span := e.tracer.Start(ctx, "policy_override.evaluate",
		trace.WithAttributes(
			attribute.String("operation.type", string(input.Operation)),
			attribute.String("git.branch", input.Branch)))
	defer span.End()

	var final OverrideResult

	for name, query := range e.queries {
		action, reason, err := e.evaluatePolicy(ctx, query, input)
		if err != nil {
			e.logger.WithContext(ctx).Error().
				Err(err).
				Str("policy_name", name).
				Msg("override policy evaluation failed")
			continue
		}
		if action == "" {
			continue
		}
		final.Matched = append(final.Matched, name)
		if final.Action == "" || action.Severity() > final.Action.Severity() {
			final.Action = action
			final.Reason = reason
		}
	}

	if final.Found() {
		e.logger.WithContext(ctx).Info().
			Str("action", string(final.Action)).
			Strs("matched_policies", final.Matched).
			Msg("override policies matched")
	}

	return final, nil
}

func (e *OverrideEngine) evaluatePolicy(ctx context.Context, query rego.PreparedEvalQuery, input OverrideInput) (types.Action, string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("evaluation failed: %w", err)
	}

	var action types.Action
	var reason string

	for _, res := range results {
		for _, expr := range res.Expressions {
			doc, ok := expr.Value.(map[string]interface{})
			if !ok {
				continue
			}
			for key, value := range doc {
				switch key {
				case "action", "decision":
					if s, ok := value.(string); ok {
						action = normalizeAction(s)
					}
				case "reason":
					if s, ok := value.(string); ok {
						reason = s
					}
				}
			}
		}
	}

	return action, reason, nil
}

// normalizeAction maps Rego vocabulary onto engine actions.
func normalizeAction(s string) types.Action {
	switch strings.ToLower(s) {
	case "allow":
		return types.ActionAllow
	case "warn", "flag":
		return types.ActionWarn
	case "require_approval":
		return types.ActionRequireApproval
	case "block", "deny":
		return types.ActionBlock
	default:
		return ""
	}
}
