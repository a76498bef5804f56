package models

import "github.com/pkg/errors"

// Таксономия ошибок движка. Все ошибки наружу оборачиваются через errors.Wrapf
// и проверяются через errors.Is.
var (
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrWindowExpired         = errors.New("acceptance window expired")
	ErrNotFound              = errors.New("not found")
	ErrValidationFailed      = errors.New("validation failed")
	ErrConflictingAssignment = errors.New("conflicting assignment")
)
