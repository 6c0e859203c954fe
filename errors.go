package ice

import "github.com/pkg/errors"

// ErrorKind is the abstract error taxonomy of §7. It is not a type
// hierarchy; AgentError carries one of these alongside the wrapped
// cause.
type ErrorKind int

const (
	KindConfig ErrorKind = iota
	KindResolution
	KindSocket
	KindTransactionFailed
	KindAuthRetry
	KindRoleConflict
	KindValidationFailure
	KindNotConnected
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config error"
	case KindResolution:
		return "resolution error"
	case KindSocket:
		return "socket error"
	case KindTransactionFailed:
		return "transaction failed"
	case KindAuthRetry:
		return "auth retry"
	case KindRoleConflict:
		return "role conflict"
	case KindValidationFailure:
		return "validation failure"
	case KindNotConnected:
		return "not connected"
	default:
		return "unknown error"
	}
}

// AgentError wraps an underlying cause with an abstract §7 kind.
type AgentError struct {
	Kind  ErrorKind
	cause error
}

func (e *AgentError) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *AgentError) Unwrap() error { return e.cause }

func newAgentError(kind ErrorKind, cause error) *AgentError {
	return &AgentError{Kind: kind, cause: cause}
}

func wrapAgentError(kind ErrorKind, cause error, msg string) *AgentError {
	return &AgentError{Kind: kind, cause: errors.Wrap(cause, msg)}
}

// ErrNotConnected is returned by Send when no pair has been selected yet
// (§4.1, §7 "NotConnected ... propagated to the caller").
var ErrNotConnected = newAgentError(KindNotConnected, nil)

// ErrTooManyTurnServers is a ConfigError (§7).
var ErrTooManyTurnServers = newAgentError(KindConfig, errors.New("too many TURN servers configured"))

// ErrInvalidPortRange is a ConfigError (§7).
var ErrInvalidPortRange = newAgentError(KindConfig, errors.New("invalid local port range"))
