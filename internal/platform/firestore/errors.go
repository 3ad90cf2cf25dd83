package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Arpitray/commerce/internal/repositories"
)

// WrapError maps a Firestore status onto *repositories.Error so services can classify it
// without knowing the backend. Context errors, including their gRPC forms, pass through as
// context.Canceled and context.DeadlineExceeded.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *repositories.Error
	if errors.As(err, &repoErr) {
		if repoErr.Op == "" {
			repoErr.Op = op
		}
		return repoErr
	}

	wrapped := &repositories.Error{Op: op, Err: err}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		wrapped.NotFound = true
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		wrapped.Conflict = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal,
		codes.PermissionDenied, codes.Unauthenticated:
		wrapped.Unavailable = true
	}
	return wrapped
}
