package policyservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

func testClient(t *testing.T, url string, maxRetries int) *Client {
	t.Helper()
	return New(config.ServiceConfig{
		BaseURL:    url,
		TimeoutMs:  2000,
		MaxRetries: maxRetries,
	}, telemetry.NewLoggerTo("policyservice-test", io.Discard))
}

func TestDryRunSuccess(t *testing.T) {
	var gotPath, gotMethod string
	var gotReq DryRunRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(types.DryRunResult{
			NeedsApproval: true,
			ChangeID:      "chg-123",
			RiskScore:     7.5,
			HumanPreview:  "force push to main",
		})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 0)

	result, err := client.DryRun(context.Background(), DryRunRequest{
		OperationType:    types.OpForcePush,
		Target:           "main",
		Command:          "git push --force origin main",
		RiskScore:        7.5,
		RequiresApproval: true,
		Reasons:          []string{"protected branch"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/operations/dry-run", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, types.OpForcePush, gotReq.OperationType)
	assert.Equal(t, "main", gotReq.Target)

	assert.True(t, result.NeedsApproval)
	assert.Equal(t, "chg-123", result.ChangeID)
	assert.InDelta(t, 7.5, result.RiskScore, 0.001)
}

func TestDryRunForbiddenNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 3)

	_, err := client.DryRun(context.Background(), DryRunRequest{OperationType: types.OpPush, Target: "main"})
	require.Error(t, err)

	var serr *ServiceError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, types.ErrKindForbidden, serr.Kind)
	assert.Equal(t, http.StatusForbidden, serr.Status)
	assert.Equal(t, int32(1), calls.Load(), "403 is a verdict, not a transient failure")
}

func TestDryRunServerErrorRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 2)

	_, err := client.DryRun(context.Background(), DryRunRequest{OperationType: types.OpPush, Target: "main"})
	require.Error(t, err)

	assert.Equal(t, types.ErrKindServerError, KindOf(err))
	assert.Equal(t, int32(3), calls.Load(), "initial attempt plus two retries")
}

func TestDryRunRecoversAfterTransientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(types.DryRunResult{NeedsApproval: false})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 3)

	result, err := client.DryRun(context.Background(), DryRunRequest{OperationType: types.OpPush, Target: "dev"})
	require.NoError(t, err)
	assert.False(t, result.NeedsApproval)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDryRunNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	client := testClient(t, srv.URL, 0)

	_, err := client.DryRun(context.Background(), DryRunRequest{OperationType: types.OpPush, Target: "main"})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindNetwork, KindOf(err))
}

func TestDryRunTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	client := New(config.ServiceConfig{
		BaseURL:    srv.URL,
		TimeoutMs:  50,
		MaxRetries: 0,
	}, telemetry.NewLoggerTo("policyservice-test", io.Discard))

	_, err := client.DryRun(context.Background(), DryRunRequest{OperationType: types.OpPush, Target: "main"})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindTimeout, KindOf(err))
}

func TestConfirm(t *testing.T) {
	var gotPath string
	var gotReq confirmRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 0)

	err := client.Confirm(context.Background(), "chg-42", "applied", map[string]string{"repo": "acme/api"})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/operations/chg-42/confirm", gotPath)
	assert.Equal(t, "applied", gotReq.Status)
	assert.Equal(t, "acme/api", gotReq.Metadata["repo"])
}

func TestWaitForApproval(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		timeout string
		want    types.ApprovalOutcome
	}{
		{"approved", `{"outcome":"approved"}`, "30000", types.ApprovalApproved},
		{"rejected", `{"outcome":"rejected"}`, "30000", types.ApprovalRejected},
		{"empty body means pending", `{}`, "30000", types.ApprovalPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/operations/chg-7/wait", r.URL.Path)
				assert.Equal(t, tt.timeout, r.URL.Query().Get("timeout_ms"))
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := testClient(t, srv.URL, 0)

			outcome, err := client.WaitForApproval(context.Background(), "chg-7", 30000)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

func TestBearerTokenFromEnv(t *testing.T) {
	t.Setenv("VAHTI_TEST_TOKEN", "sekret-42")

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(types.DryRunResult{})
	}))
	defer srv.Close()

	client := New(config.ServiceConfig{
		BaseURL:   srv.URL,
		TimeoutMs: 2000,
		TokenEnv:  "VAHTI_TEST_TOKEN",
	}, telemetry.NewLoggerTo("policyservice-test", io.Discard))

	_, err := client.DryRun(context.Background(), DryRunRequest{OperationType: types.OpPush, Target: "dev"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sekret-42", gotAuth)
}

func TestNoTokenMeansNoAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(types.DryRunResult{})
	}))
	defer srv.Close()

	client := testClient(t, srv.URL, 0)

	_, err := client.DryRun(context.Background(), DryRunRequest{OperationType: types.OpPush, Target: "dev"})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestKindOfUnknownError(t *testing.T) {
	assert.Equal(t, types.ErrKindNetwork, KindOf(errors.New("boom")))
}
