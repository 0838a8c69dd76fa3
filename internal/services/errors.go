package services

import (
	"errors"
	"fmt"

	"github.com/nihonselect/api/internal/platform/pagination"
	"github.com/nihonselect/api/internal/repositories"
)

// Error kinds. Every service sentinel wraps exactly one of these so transports can map errors
// without knowing individual services.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = fmt.Errorf("%w: invalid state transition", ErrValidation)
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrExternalService   = errors.New("external service failed")
	ErrUnavailable       = fmt.Errorf("%w: dependency unavailable", ErrExternalService)
	ErrConfiguration     = errors.New("configuration error")
)

type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// translateRepositoryError maps repository failures onto the caller's sentinels.
func translateRepositoryError(err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrExternalService, err)
}
