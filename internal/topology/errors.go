package topology

import "errors"

// Domain errors for the topology package.
var (
	// ErrAccessDenied is returned when a principal's policy does not allow an action.
	ErrAccessDenied = errors.New("topology: access denied")

	// ErrOutOfOrder is returned when the graph is built out of sequence,
	// e.g. a table added after compute units.
	ErrOutOfOrder = errors.New("topology: construction out of order")

	// ErrUnknownFunction is returned when a grant, route or lookup names a
	// compute unit that was never added.
	ErrUnknownFunction = errors.New("topology: unknown function")

	// ErrUnknownTable is returned when a grant names a table that was never added.
	ErrUnknownTable = errors.New("topology: unknown table")

	// ErrDuplicate is returned when a name, route or output key is reused.
	ErrDuplicate = errors.New("topology: duplicate")

	// ErrInvalid is returned for malformed tables, functions, routes or statements.
	ErrInvalid = errors.New("topology: invalid")
)
