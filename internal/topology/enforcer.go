package topology

import "fmt"

// Enforcer checks a compute unit's actions against its policy at run time.
// Stores and the device registry are wrapped in guards that call Authorize
// before every operation, so a unit without a grant cannot reach them.
type Enforcer struct {
	principal string
	policy    Policy
}

// NewEnforcer returns an enforcer for principal.
func NewEnforcer(principal string, p Policy) *Enforcer {
	return &Enforcer{principal: principal, policy: p}
}

// Principal returns the compute unit name.
func (e *Enforcer) Principal() string {
	return e.principal
}

// Policy returns the enforced policy.
func (e *Enforcer) Policy() Policy {
	return e.policy
}

// Allows reports whether the principal may perform action on resource.
func (e *Enforcer) Allows(action, resource string) bool {
	return e.policy.Allows(action, resource)
}

// Authorize returns ErrAccessDenied when the principal may not perform action
// on resource.
func (e *Enforcer) Authorize(action, resource string) error {
	if e.policy.Allows(action, resource) {
		return nil
	}
	return fmt.Errorf("%w: %s is not allowed to %s on %s", ErrAccessDenied, e.principal, action, resource)
}
