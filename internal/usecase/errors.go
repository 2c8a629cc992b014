package usecase

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the conversation core. Callers match with
// errors.Is; the delivery layers map each kind to a status code.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrStorage      = errors.New("storage failure")
	ErrUnauthorized = errors.New("missing credential")
	ErrForbidden    = errors.New("forbidden")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
