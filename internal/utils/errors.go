package utils

import (
	"errors"
	"fmt"
)

// Kind classifies an AppError into the failure taxonomy the ingestion
// pipeline reasons about.
type Kind string

const (
	// KindValidation marks a malformed event rejected at the gate boundary.
	KindValidation Kind = "validation"
	// KindPersistence marks a store write failure during incident correlation.
	KindPersistence Kind = "persistence"
	// KindTransient marks a recoverable external failure (poller fetch,
	// broker publish). Never fatal; callers apply backoff or fallback.
	KindTransient Kind = "transient"
	// KindDelivery marks a single-connection send failure during fan-out.
	KindDelivery Kind = "delivery"
)

// AppError wraps an operation, human-facing message, failure kind, and
// underlying error.
type AppError struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// E constructs an AppError with the given kind.
func E(kind Kind, op, msg string, err error) error {
	return &AppError{Kind: kind, Op: op, Msg: msg, Err: err}
}

// IsKind reports whether the first AppError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
