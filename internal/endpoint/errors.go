package endpoint

import "errors"

// Domain errors for the endpoint package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, endpoint.ErrEndpointNotFound) {
//	    // handle not found case
//	}
var (
	// ErrEndpointNotFound is returned when an endpoint id does not exist.
	ErrEndpointNotFound = errors.New("endpoint: not found")

	// ErrInvalidEndpoint is returned when endpoint validation fails.
	ErrInvalidEndpoint = errors.New("endpoint: invalid")
)
