// Package topology describes the deployment as a directed construction graph
// and enforces the permissions it declares.
//
// A Builder accepts resources in a fixed order:
//
//	stores → compute units → grants → routes → outputs
//
// Anything added out of sequence, or referring to a resource that has not
// been declared, fails Build. The resulting Topology is read-only and is the
// single source for the router's routes, each compute unit's environment and
// policy, and the published outputs.
//
// Policies follow the familiar statement model: wildcard actions and
// resources, an explicit Deny overrides any Allow, and anything not allowed
// is denied. An Enforcer applies one compute unit's policy at run time.
package topology
