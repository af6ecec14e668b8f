package policy

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

const blockForcePushPolicy = `package vahti

import rego.v1

action := "block" if {
	input.operation == "force_push"
	input.protected
}

reason := "force push to protected branch denied by local policy" if {
	input.operation == "force_push"
	input.protected
}
`

const warnAgentPolicy = `package vahti

import rego.v1

action := "warn" if {
	input.detection_score >= 0.3
}

reason := "automation detected" if {
	input.detection_score >= 0.3
}
`

func testLogger() *telemetry.Logger {
	return telemetry.NewLoggerTo("policy-test", io.Discard)
}

func TestOverrideEngine_LoadAndEvaluate(t *testing.T) {
	engine := NewOverrideEngine(testLogger())
	ctx := context.Background()

	require.NoError(t, engine.LoadPolicy(ctx, "protect-main", blockForcePushPolicy))
	assert.False(t, engine.Empty())

	result, err := engine.Evaluate(ctx, OverrideInput{
		Operation: types.OpForcePush,
		Branch:    "main",
		Protected: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Found())
	assert.Equal(t, types.ActionBlock, result.Action)
	assert.Contains(t, result.Reason, "denied by local policy")
	assert.Equal(t, []string{"protect-main"}, result.Matched)
}

func TestOverrideEngine_NoMatch(t *testing.T) {
	engine := NewOverrideEngine(testLogger())
	ctx := context.Background()

	require.NoError(t, engine.LoadPolicy(ctx, "protect-main", blockForcePushPolicy))

	result, err := engine.Evaluate(ctx, OverrideInput{
		Operation: types.OpPush,
		Branch:    "feature",
		Protected: false,
	})
	require.NoError(t, err)
	assert.False(t, result.Found())
}

func TestOverrideEngine_SeverityAggregation(t *testing.T) {
	engine := NewOverrideEngine(testLogger())
	ctx := context.Background()

	require.NoError(t, engine.LoadPolicy(ctx, "protect-main", blockForcePushPolicy))
	require.NoError(t, engine.LoadPolicy(ctx, "warn-agents", warnAgentPolicy))

	result, err := engine.Evaluate(ctx, OverrideInput{
		Operation:      types.OpForcePush,
		Branch:         "main",
		Protected:      true,
		DetectionScore: 0.6,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionBlock, result.Action, "most restrictive policy wins")
	assert.Len(t, result.Matched, 2)
}

func TestOverrideEngine_LoadDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "protect.rego")
	require.NoError(t, os.WriteFile(path, []byte(blockForcePushPolicy), 0o644))

	engine := NewOverrideEngine(testLogger())
	require.NoError(t, engine.LoadDir(context.Background(), dir))
	assert.False(t, engine.Empty())
}

func TestOverrideEngine_LoadDir_Missing(t *testing.T) {
	engine := NewOverrideEngine(testLogger())
	err := engine.LoadDir(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.NoError(t, err, "missing policy dir is not an error")
	assert.True(t, engine.Empty())
}

func TestOverrideEngine_InvalidPolicy(t *testing.T) {
	engine := NewOverrideEngine(testLogger())
	err := engine.LoadPolicy(context.Background(), "broken", "package vahti\n\naction := {")
	assert.Error(t, err)
}

func TestNormalizeAction(t *testing.T) {
	tests := []struct {
		in   string
		want types.Action
	}{
		{"allow", types.ActionAllow},
		{"warn", types.ActionWarn},
		{"flag", types.ActionWarn},
		{"require_approval", types.ActionRequireApproval},
		{"block", types.ActionBlock},
		{"deny", types.ActionBlock},
		{"whatever", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeAction(tt.in), "normalizeAction(%q)", tt.in)
	}
}
