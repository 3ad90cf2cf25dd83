package repositories

import (
	"errors"
	"fmt"
)

// Error is the RepositoryError every cart backend returns, whatever its driver.
type Error struct {
	Op          string
	Err         error
	NotFound    bool
	Conflict    bool
	Unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.NotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.Conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Unavailable }

// NewUnavailableError wraps err as a transient backend failure.
func NewUnavailableError(op string, err error) error {
	if err == nil {
		err = errors.New("backend unavailable")
	}
	return &Error{Op: op, Err: err, Unavailable: true}
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(op string, err error) error {
	if err == nil {
		err = errors.New("not found")
	}
	return &Error{Op: op, Err: err, NotFound: true}
}

var _ RepositoryError = (*Error)(nil)
