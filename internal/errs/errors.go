package errs

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category surfaced to job callers.
type Kind string

const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindDuplicate        Kind = "DUPLICATE_ERROR"
	KindAlreadyRunning   Kind = "ALREADY_RUNNING"
	KindSyncFailure      Kind = "SYNC_FAILURE"
	KindInsufficientData Kind = "INSUFFICIENT_DATA"
	KindNotFound         Kind = "NOT_FOUND"
	KindInvalidState     Kind = "INVALID_STATE"
)

// Error carries the error kind plus the operation and key it failed on,
// so callers can decide between retry, back off and alert.
type Error struct {
	Kind Kind
	Op   string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s [%s]: %v", e.Op, e.Kind, e.Key, e.Err)
		}
		return fmt.Sprintf("%s: %s [%s]", e.Op, e.Kind, e.Key)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an Error; err may be nil when the kind alone is the message.
func E(kind Kind, op, key string, err error) *Error {
	return &Error{Kind: kind, Op: op, Key: key, Err: err}
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
