package repositories

import (
	"errors"
	"fmt"
)

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
	kindUnavailable
)

// Error is the RepositoryError returned by backends that have no richer error type.
type Error struct {
	Op   string
	kind errorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	label := "failed"
	switch e.kind {
	case kindNotFound:
		label = "not found"
	case kindConflict:
		label = "conflict"
	case kindUnavailable:
		label = "unavailable"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, label, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, label)
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// IsNotFound implements RepositoryError.
func (e *Error) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict implements RepositoryError.
func (e *Error) IsConflict() bool { return e != nil && e.kind == kindConflict }

// IsUnavailable implements RepositoryError.
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// NewNotFound reports a missing entity.
func NewNotFound(op string) *Error { return &Error{Op: op, kind: kindNotFound} }

// NewConflict reports a uniqueness or precondition violation.
func NewConflict(op string, err error) *Error { return &Error{Op: op, kind: kindConflict, Err: err} }

// NewUnavailable reports a backend outage.
func NewUnavailable(op string, err error) *Error {
	return &Error{Op: op, kind: kindUnavailable, Err: err}
}

// IsNotFound reports whether err carries a not-found classification.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict classification.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries an unavailable classification.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
