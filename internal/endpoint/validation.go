package endpoint

import (
	"fmt"
	"regexp"
)

// Validation constants. Endpoint ids follow the voice platform's rules.
const (
	maxIDLength           = 256
	maxFriendlyNameLength = 128
	maxDescriptionLength  = 128
	maxCapabilities       = 100
	maxStateKeys          = 100
)

var endpointIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-=#;:?@&]+$`)

// ValidateEndpoint checks a record before it is written.
// Returns an error describing the first validation failure found.
func ValidateEndpoint(e *Endpoint) error {
	if e == nil {
		return fmt.Errorf("%w: nil endpoint", ErrInvalidEndpoint)
	}
	if err := ValidateID(e.EndpointID); err != nil {
		return err
	}
	if e.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidEndpoint)
	}
	if len(e.UserID) > maxIDLength {
		return fmt.Errorf("%w: user id exceeds %d characters", ErrInvalidEndpoint, maxIDLength)
	}
	if e.FriendlyName == "" {
		return fmt.Errorf("%w: friendly name is required", ErrInvalidEndpoint)
	}
	if len(e.FriendlyName) > maxFriendlyNameLength {
		return fmt.Errorf("%w: friendly name exceeds %d characters", ErrInvalidEndpoint, maxFriendlyNameLength)
	}
	if len(e.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidEndpoint, maxDescriptionLength)
	}
	if len(e.Capabilities) > maxCapabilities {
		return fmt.Errorf("%w: too many capabilities (%d, max %d)", ErrInvalidEndpoint, len(e.Capabilities), maxCapabilities)
	}
	for i, c := range e.Capabilities {
		if c.Interface == "" {
			return fmt.Errorf("%w: capability %d has no interface", ErrInvalidEndpoint, i)
		}
	}
	if len(e.State) > maxStateKeys {
		return fmt.Errorf("%w: too many state keys (%d, max %d)", ErrInvalidEndpoint, len(e.State), maxStateKeys)
	}
	return nil
}

// ValidateID checks an endpoint id.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: endpoint id is required", ErrInvalidEndpoint)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: endpoint id exceeds %d characters", ErrInvalidEndpoint, maxIDLength)
	}
	if !endpointIDRegex.MatchString(id) {
		return fmt.Errorf("%w: endpoint id %q has invalid characters", ErrInvalidEndpoint, id)
	}
	return nil
}
