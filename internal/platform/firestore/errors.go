package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error classifies Firestore failures for repositories.RepositoryError.
type Error struct {
	op   string
	err  error
	code codes.Code
}

func (e *Error) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// IsNotFound reports a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.code == codes.NotFound }

// IsConflict reports a concurrent or precondition failure.
func (e *Error) IsConflict() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return true
	}
	return false
}

// IsUnavailable reports a transient backend failure.
func (e *Error) IsUnavailable() bool {
	if e == nil {
		return false
	}
	switch e.code {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return true
	}
	return false
}

// WrapError annotates err with op and its gRPC classification. Context errors pass through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	if _, ok := status.FromError(err); !ok {
		// domain errors returned from a transaction pass through untouched
		return err
	}
	switch code := status.Code(err); code {
	case codes.Canceled:
		return context.Canceled
	default:
		return &Error{op: op, err: err, code: code}
	}
}

// IsNotFound reports whether err is a Firestore NotFound.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsNotFound()
	}
	return status.Code(err) == codes.NotFound
}
