// Package approval turns a remote "needs approval" verdict into a
// blocking wait. The git process sits inside RequestApproval until a
// human decides, the overall timeout expires, or the user interrupts.
package approval

import (
	"context"
	"time"

	"github.com/oklog/run"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// Waiter is the slice of the policy service the coordinator needs.
type Waiter interface {
	WaitForApproval(ctx context.Context, changeID string, timeoutMs int) (types.ApprovalOutcome, error)
	Confirm(ctx context.Context, changeID, status string, metadata map[string]string) error
}

// Notifier presents the pending approval to the human. Implementations
// must not block; the coordinator calls them from its actor goroutines.
type Notifier interface {
	ApprovalRequested(result types.DryRunResult)
	Reminder(result types.DryRunResult, waited, remaining time.Duration)
	Resolved(outcome types.ApprovalOutcome, waited time.Duration)
}

// Coordinator drives the poll loop for one pending approval.
type Coordinator struct {
	service Waiter
	notify  Notifier
	logger  *telemetry.Logger
	tracer  trace.Tracer

	pollInterval  time.Duration
	timeout       time.Duration
	reminderEvery time.Duration
}

// NewCoordinator builds a coordinator from the approval section of the
// config. Zero or negative intervals fall back to safe values so a
// hand-built config cannot produce a busy loop.
func NewCoordinator(cfg config.ApprovalConfig, service Waiter, notify Notifier, logger *telemetry.Logger) *Coordinator {
	c := &Coordinator{
		service:       service,
		notify:        notify,
		logger:        logger,
		tracer:        otel.Tracer("approval"),
		pollInterval:  time.Duration(cfg.PollIntervalMs) * time.Millisecond,
		timeout:       time.Duration(cfg.TimeoutMs) * time.Millisecond,
		reminderEvery: time.Duration(cfg.ReminderIntervalMs) * time.Millisecond,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Minute
	}
	if c.reminderEvery <= 0 {
		c.reminderEvery = 30 * time.Second
	}
	return c
}

// RequestApproval blocks until the change reaches a terminal outcome
// or the overall timeout expires. Wait-endpoint failures are logged
// and polling continues; only the timeout or a verdict ends the loop.
// The final status is confirmed back to the service best-effort: a
// failed confirmation never changes the local outcome.
func (c *Coordinator) RequestApproval(ctx context.Context, result types.DryRunResult) types.ApprovalOutcome {
	if !result.NeedsApproval {
		return types.ApprovalApproved
	}

	ctx, span := c.tracer.Start(ctx, "approval.request",
		trace.WithAttributes(
			attribute.String("change_id", result.ChangeID),
			attribute.Float64("risk_score", result.RiskScore),
		))
	defer span.End()

	start := time.Now()
	c.notify.ApprovalRequested(result)

	outcome := c.waitLoop(ctx, result, start)
	waited := time.Since(start)

	c.notify.Resolved(outcome, waited)
	c.logger.LogApprovalOutcome(ctx, result.ChangeID, string(outcome), waited.Milliseconds())
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	telemetry.ApprovalWait.Record(ctx, waited.Seconds(), metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
	))

	c.confirm(ctx, result.ChangeID, outcome)
	return outcome
}

// waitLoop runs the poll actor and the reminder actor as a group. The
// poll actor ends the group when it has a verdict; the reminder actor
// only ever stops on interrupt.
func (c *Coordinator) waitLoop(ctx context.Context, result types.DryRunResult, start time.Time) types.ApprovalOutcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outcome := types.ApprovalTimeout

	var g run.Group

	g.Add(func() error {
		for {
			got, err := c.service.WaitForApproval(ctx, result.ChangeID, int(c.pollInterval.Milliseconds()))
			if err == nil && got.Terminal() {
				outcome = got
				return nil
			}
			if err != nil {
				c.logger.LogServiceError(ctx, "wait_for_approval", err)
			}

			select {
			case <-ctx.Done():
				// Deadline or user interrupt; outcome stays timeout.
				return ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}
	}, func(error) {
		cancel()
	})

	reminderStop := make(chan struct{})
	g.Add(func() error {
		ticker := time.NewTicker(c.reminderEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				waited := time.Since(start)
				c.notify.Reminder(result, waited, c.timeout-waited)
			case <-reminderStop:
				return nil
			}
		}
	}, func(error) {
		close(reminderStop)
	})

	_ = g.Run()
	return outcome
}

// confirm reports the terminal status. Failures are swallowed: the
// local decision holds whether or not the remote audit write lands.
func (c *Coordinator) confirm(ctx context.Context, changeID string, outcome types.ApprovalOutcome) {
	status := "cancelled"
	if outcome.Proceed() {
		status = "applied"
	}

	// The wait context may already be expired; give the confirmation
	// its own short deadline.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.service.Confirm(ctx, changeID, status, map[string]string{
		"outcome": string(outcome),
	}); err != nil {
		c.logger.LogServiceError(ctx, "confirm", err)
	}
}
