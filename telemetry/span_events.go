package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordOperationClassifiedEvent emits a structured span event when a
// hook invocation has been classified into an operation type
func RecordOperationClassifiedEvent(
	span trace.Span,
	hook string,
	operation string,
	branch string,
	protected bool,
	commitDelta int,
) {
	if span == nil {
		return
	}

	span.AddEvent("git.operation.classified", trace.WithAttributes(
		attribute.String("event.type", "git.operation.classified"),
		attribute.String("hook.type", hook),
		attribute.String("operation.type", operation),
		attribute.String("git.branch", branch),
		attribute.Bool("branch.protected", protected),
		attribute.Int("commit.delta", commitDelta),
	))
}

// RecordDecisionMadeEvent emits a structured span event for enforcement decisions
func RecordDecisionMadeEvent(
	span trace.Span,
	action string,
	operation string,
	branch string,
	reason string,
	riskScore float64,
	detectionScore float64,
) {
	if span == nil {
		return
	}

	span.AddEvent("enforcement.decision.made", trace.WithAttributes(
		attribute.String("event.type", "enforcement.decision.made"),
		attribute.String("decision.action", action),
		attribute.String("operation.type", operation),
		attribute.String("git.branch", branch),
		attribute.String("decision.reason", reason),
		attribute.Float64("risk.score", riskScore),
		attribute.Float64("detection.score", detectionScore),
	))
}

// RecordAgentDetectedEvent emits a structured span event when agent
// detection crosses the warn threshold
func RecordAgentDetectedEvent(
	span trace.Span,
	agent string,
	score float64,
	signalCount int,
) {
	if span == nil {
		return
	}

	span.AddEvent("agent.detected", trace.WithAttributes(
		attribute.String("event.type", "agent.detected"),
		attribute.String("agent.type", agent),
		attribute.Float64("detection.score", score),
		attribute.Int("signal.count", signalCount),
	))
}

// RecordCacheEvent emits a structured span event for cache lookups
func RecordCacheEvent(
	span trace.Span,
	fingerprint string,
	hit bool,
	result string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "operation.cache.lookup"),
		attribute.String("cache.fingerprint", fingerprint),
		attribute.Bool("cache.hit", hit),
	}

	if result != "" {
		attrs = append(attrs, attribute.String("cache.result", result))
	}

	span.AddEvent("operation.cache.lookup", trace.WithAttributes(attrs...))
}

// RecordApprovalEvent emits a structured span event for approval outcomes
func RecordApprovalEvent(
	span trace.Span,
	changeID string,
	outcome string,
	waitedSeconds float64,
) {
	if span == nil {
		return
	}

	span.AddEvent("approval.resolved", trace.WithAttributes(
		attribute.String("event.type", "approval.resolved"),
		attribute.String("change.id", changeID),
		attribute.String("approval.outcome", outcome),
		attribute.Float64("approval.waited.seconds", waitedSeconds),
	))
}
