package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{code: codes.NotFound, notFound: true},
		{code: codes.AlreadyExists, conflict: true},
		{code: codes.Aborted, conflict: true},
		{code: codes.Unavailable, unavailable: true},
		{code: codes.InvalidArgument},
	}
	for _, tc := range cases {
		err := WrapError("op", status.Error(tc.code, "boom"))
		var e *Error
		if !errors.As(err, &e) {
			t.Fatalf("%s: expected *Error, got %T", tc.code, err)
		}
		if e.IsNotFound() != tc.notFound || e.IsConflict() != tc.conflict || e.IsUnavailable() != tc.unavailable {
			t.Fatalf("%s: unexpected classification %+v", tc.code, e)
		}
	}
}

func TestWrapErrorPassesContextErrors(t *testing.T) {
	if err := WrapError("op", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("op", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if WrapError("op", nil) != nil {
		t.Fatalf("expected nil")
	}
	domainErr := errors.New("order: not cancellable")
	if err := WrapError("transaction", domainErr); err != domainErr {
		t.Fatalf("expected non-status error to pass through, got %v", err)
	}
	if !IsNotFound(status.Error(codes.NotFound, "x")) {
		t.Fatalf("expected raw NotFound to be detected")
	}
}
