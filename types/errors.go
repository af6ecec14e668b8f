package types

// ErrorKind classifies a failed policy service call. The fail-mode
// tables key off these, so classification happens once at the client
// and every layer above speaks in kinds, not raw errors.
type ErrorKind string

const (
	ErrKindForbidden   ErrorKind = "403_forbidden"
	ErrKindServerError ErrorKind = "500_server_error"
	ErrKindNetwork     ErrorKind = "network_error"
	ErrKindTimeout     ErrorKind = "timeout"
)

// Known reports whether the kind is one the fail-mode tables cover.
func (k ErrorKind) Known() bool {
	switch k {
	case ErrKindForbidden, ErrKindServerError, ErrKindNetwork, ErrKindTimeout:
		return true
	}
	return false
}
