package thing

import "errors"

// Domain-specific errors for the device registry.
var (
	// ErrThingNotFound is returned when a thing does not exist.
	ErrThingNotFound = errors.New("thing: not found")

	// ErrThingTypeNotFound is returned when a thing references an unknown type.
	ErrThingTypeNotFound = errors.New("thing: type not found")

	// ErrGroupNotFound is returned when a thing group does not exist.
	ErrGroupNotFound = errors.New("thing: group not found")

	// ErrShadowNotFound is returned when a thing has never had a shadow update.
	ErrShadowNotFound = errors.New("thing: shadow not found")

	// ErrAlreadyExists is returned when creating a thing, type or group
	// whose name is taken.
	ErrAlreadyExists = errors.New("thing: already exists")

	// ErrInvalid is returned for malformed names or shadow documents.
	ErrInvalid = errors.New("thing: invalid")
)
