package hook

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/vahti/audit"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// runPostCheckout observes branch switches for the audit trail. It
// fires after the checkout already happened, so it never blocks.
func (r *Runner) runPostCheckout(ctx context.Context, args []string, _ io.Reader) int {
	var prev, next, flag string
	if len(args) >= 3 {
		prev, next, flag = args[0], args[1], args[2]
	}
	if flag == "0" {
		// File checkout, not a branch switch.
		return ExitAllow
	}

	branch, err := r.git.CurrentBranch(ctx)
	if err != nil {
		branch = ""
	}

	r.audit(audit.Record{
		Event:     audit.EventAllow,
		Hook:      string(types.HookPostCheckout),
		Operation: string(types.OpCheckout),
		Branch:    branch,
		Reason:    "branch switch",
	})
	telemetry.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(types.ActionAllow)),
		attribute.String("operation", string(types.OpCheckout)),
	))
	r.metrics.Count("decision", map[string]string{
		"action":    string(types.ActionAllow),
		"operation": string(types.OpCheckout),
		"hook":      string(types.HookPostCheckout),
	})
	r.logger.WithContext(ctx).Debug().
		Str("from", prev).
		Str("to", next).
		Str("branch", branch).
		Msg("checkout observed")
	return ExitAllow
}
