package user

import "errors"

// Domain errors for the user package.
var (
	// ErrUserNotFound is returned when a user id does not exist.
	ErrUserNotFound = errors.New("user: not found")

	// ErrInvalidUser is returned when user validation fails.
	ErrInvalidUser = errors.New("user: invalid")
)
