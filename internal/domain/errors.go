package domain

import "errors"

var (
	ErrValidation         = errors.New("validation error")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrAuthorization      = errors.New("not authorized for subject")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrTokenExpired       = errors.New("token expired")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
)
