package user

import "errors"

var (
	ErrNotFound           = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSelfAction is returned when an admin tries to delete their own
	// account or change their own role.
	ErrSelfAction = errors.New("cannot change own role or delete own account")
	ErrLastAdmin  = errors.New("at least one admin account must remain")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
