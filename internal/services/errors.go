package services

import (
	"errors"
	"fmt"

	"github.com/Arpitray/commerce/internal/repositories"
)

var (
	// ErrAuthRequired indicates a cart mutation was attempted without a ready, signed-in session.
	ErrAuthRequired = errors.New("cart service: authentication required")
	// ErrRemoteUnavailable indicates the persisted cart could not be read or written.
	ErrRemoteUnavailable = errors.New("cart service: remote cart unavailable")
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartItemNotFound indicates the referenced line is not in the cart.
	ErrCartItemNotFound = errors.New("cart service: item not found")
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartProductsRequired   = errors.New("cart service: product resolver is required")
)

// translateRepoError folds every persistence failure into ErrRemoteUnavailable while keeping the
// backend classification in the message.
func translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRemoteUnavailable) {
		return err
	}
	kind := "failure"
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			kind = "not found"
		case repoErr.IsConflict():
			kind = "conflict"
		case repoErr.IsUnavailable():
			kind = "unavailable"
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, kind, err)
}
