package core

import "errors"

// ErrorKind is the closed set of error kinds the engine ever surfaces to
// a caller of the action dispatcher, per the engine's error handling
// design. It is distinct from Go's error interface so callers can switch
// on it without string matching.
type ErrorKind string

const (
	KindInvalidPayload       ErrorKind = "invalid_payload"
	KindNotFound             ErrorKind = "not_found"
	KindPathNotFound         ErrorKind = "path_not_found"
	KindPreconditionViolated ErrorKind = "precondition_violated"
	KindRouterFailed         ErrorKind = "router_failed"
	KindForbidden            ErrorKind = "forbidden"
	KindDefinitionNotFound   ErrorKind = "definition_not_found"
	KindMigrationFailed      ErrorKind = "migration_failed"
	KindConcurrencyAborted   ErrorKind = "concurrency_aborted"
)

// Error is the single tagged error type the engine raises. Message is the
// human-readable description; Kind selects the propagation behavior;
// Details carries structured context (e.g. {"workItemId": "..."});
// cause is the wrapped underlying error, reachable via Unwrap.
type Error struct {
	Message string
	Kind    ErrorKind
	Details map[string]any
	cause   error
}

// NewError constructs an Error of the given kind wrapping err.
func NewError(err error, kind ErrorKind, details map[string]any) *Error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Message: msg, Kind: kind, Details: details, cause: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// AsMap renders the error as a structured record suitable for an audit
// attribute or an API response body.
func (e *Error) AsMap() map[string]any {
	if e == nil {
		return nil
	}
	if e.Message == "" && e.Kind == "" && e.Details == nil {
		return nil
	}
	return map[string]any{
		"message": e.Message,
		"kind":    string(e.Kind),
		"details": e.Details,
	}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
