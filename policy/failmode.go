package policy

import "github.com/yairfalse/vahti/types"

// FailureResponse is what the engine does when the policy service
// cannot answer.
type FailureResponse struct {
	Action  types.Action
	Message string
}

// gracefulTable maps error kinds to responses for graceful mode. A
// 403 means the service saw the operation and refused it, so it
// blocks; infrastructure failures degrade to a warning.
var gracefulTable = map[types.ErrorKind]FailureResponse{
	types.ErrKindForbidden:   {types.ActionBlock, "policy service rejected the operation"},
	types.ErrKindServerError: {types.ActionWarn, "policy service error, proceeding with warning"},
	types.ErrKindNetwork:     {types.ActionWarn, "policy service unreachable, proceeding with warning"},
	types.ErrKindTimeout:     {types.ActionWarn, "policy service timed out, proceeding with warning"},
}

// ActionForFailure resolves a failed service call under the given
// fail mode. Callers on paths with no interactive fallback pass
// FailStrict unconditionally.
func ActionForFailure(mode types.FailMode, kind types.ErrorKind) FailureResponse {
	switch mode {
	case types.FailStrict:
		return FailureResponse{types.ActionBlock, "policy service unavailable, failing closed"}
	case types.FailPermissive:
		return FailureResponse{types.ActionWarn, "policy service unavailable, proceeding with warning"}
	}

	if resp, ok := gracefulTable[kind]; ok {
		return resp
	}
	return FailureResponse{types.ActionWarn, "policy service failed, proceeding with warning"}
}
