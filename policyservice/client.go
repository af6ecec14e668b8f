// Package policyservice is the HTTP client for the remote policy
// service: risk dry-runs, approval waits, and final confirmations.
// The service is an external collaborator; this package owns the wire
// contract and the classification of its failures into types.ErrorKind
// so the layers above reason about kinds, never raw transport errors.
package policyservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

const (
	dryRunPath     = "/api/v1/operations/dry-run"
	operationsPath = "/api/v1/operations/"

	retryBaseDelay = 100 * time.Millisecond
)

// ServiceError wraps any failed service call with its classified kind.
// Kind drives fail-mode resolution; Err keeps the original cause for
// logs.
type ServiceError struct {
	Kind   types.ErrorKind
	Op     string
	Status int
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("policy service %s: %s (http %d)", e.Op, e.Kind, e.Status)
	}
	return fmt.Sprintf("policy service %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// KindOf extracts the classified kind from an error, defaulting to
// network_error for anything that did not come out of this client.
func KindOf(err error) types.ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return types.ErrKindNetwork
}

// DryRunRequest describes the operation the service should evaluate
// without executing. RiskScore and Reasons carry the local verdict so
// the service can audit what the client already concluded.
type DryRunRequest struct {
	OperationType    types.OperationType `json:"operation_type"`
	Target           string              `json:"target"`
	Command          string              `json:"command"`
	Metadata         map[string]string   `json:"metadata,omitempty"`
	RiskScore        float64             `json:"risk_score"`
	HumanPreview     string              `json:"human_preview,omitempty"`
	RequiresApproval bool                `json:"requires_approval"`
	Reasons          []string            `json:"reasons,omitempty"`
}

type confirmRequest struct {
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type waitResponse struct {
	Outcome types.ApprovalOutcome `json:"outcome"`
}

// Client talks to the policy service over HTTP. One instance per hook
// invocation; it holds no state beyond the configured transport.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// New builds a client from the service section of the config. The
// bearer token is read from the environment variable the config names;
// an empty value means unauthenticated calls.
func New(cfg config.ServiceConfig, logger *telemetry.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var token string
	if cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		logger:     logger,
		tracer:     otel.Tracer("policyservice"),
	}
}

// DryRun submits the operation for remote risk evaluation. The service
// answers with whether a human has to approve and a change id to wait
// on.
func (c *Client) DryRun(ctx context.Context, req DryRunRequest) (types.DryRunResult, error) {
	ctx, span := c.tracer.Start(ctx, "policyservice.dry_run",
		trace.WithAttributes(
			attribute.String("operation", string(req.OperationType)),
			attribute.String("target", req.Target),
		))
	defer span.End()

	var result types.DryRunResult
	if err := c.post(ctx, "dry_run", dryRunPath, req, &result); err != nil {
		span.RecordError(err)
		return types.DryRunResult{}, err
	}

	span.SetAttributes(
		attribute.Bool("needs_approval", result.NeedsApproval),
		attribute.String("change_id", result.ChangeID),
	)
	return result, nil
}

// Confirm reports the terminal status of a change back to the service.
// Status is "applied" when the operation proceeded, "cancelled"
// otherwise. Callers treat failures as non-fatal; the local decision
// already happened.
func (c *Client) Confirm(ctx context.Context, changeID, status string, metadata map[string]string) error {
	ctx, span := c.tracer.Start(ctx, "policyservice.confirm",
		trace.WithAttributes(
			attribute.String("change_id", changeID),
			attribute.String("status", status),
		))
	defer span.End()

	path := operationsPath + changeID + "/confirm"
	if err := c.post(ctx, "confirm", path, confirmRequest{Status: status, Metadata: metadata}, nil); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// WaitForApproval long-polls the service for a verdict on the change.
// A "pending" outcome means the poll window elapsed without a decision
// and the caller should poll again; it is not an error.
func (c *Client) WaitForApproval(ctx context.Context, changeID string, timeoutMs int) (types.ApprovalOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "policyservice.wait_for_approval",
		trace.WithAttributes(attribute.String("change_id", changeID)))
	defer span.End()

	path := fmt.Sprintf("%s%s/wait?timeout_ms=%d", operationsPath, changeID, timeoutMs)

	var resp waitResponse
	if err := c.get(ctx, "wait_for_approval", path, &resp); err != nil {
		span.RecordError(err)
		return "", err
	}

	if resp.Outcome == "" {
		resp.Outcome = types.ApprovalPending
	}
	span.SetAttributes(attribute.String("outcome", string(resp.Outcome)))
	return resp.Outcome, nil
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ServiceError{Kind: types.ErrKindNetwork, Op: op, Err: err}
	}
	return c.doWithRetry(ctx, op, http.MethodPost, path, payload, out)
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	return c.doWithRetry(ctx, op, http.MethodGet, path, nil, out)
}

// doWithRetry retries transient failures (5xx, transport errors) with
// exponential backoff. 403 is a verdict, not a transient condition, so
// it returns immediately. The caller's context bounds the whole loop.
func (c *Client) doWithRetry(ctx context.Context, op, method, path string, payload []byte, out any) error {
	var last *ServiceError

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return &ServiceError{Kind: types.ErrKindTimeout, Op: op, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		serr := c.doOnce(ctx, op, method, path, payload, out)
		if serr == nil {
			return nil
		}
		last = serr

		if serr.Kind == types.ErrKindForbidden {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	c.logger.LogServiceError(ctx, op, last)
	telemetry.ServiceErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("kind", string(last.Kind)),
	))
	return last
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, payload []byte, out any) *ServiceError {
	var body *bytes.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &ServiceError{Kind: types.ErrKindNetwork, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServiceError{Kind: classifyTransport(err), Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		return &ServiceError{Kind: types.ErrKindForbidden, Op: op, Status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Every non-2xx besides 403 is the service failing to produce
		// a usable verdict.
		return &ServiceError{Kind: types.ErrKindServerError, Op: op, Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ServiceError{Kind: types.ErrKindServerError, Op: op, Status: resp.StatusCode, Err: err}
		}
	}
	return nil
}

// classifyTransport maps transport-level failures onto the two kinds
// the fail-mode tables distinguish: deadline expiry and everything
// else.
func classifyTransport(err error) types.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ErrKindTimeout
	}
	return types.ErrKindNetwork
}
