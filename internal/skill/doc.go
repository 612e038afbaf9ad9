// Package skill implements the Skill Handler: a stateless forwarder that
// relays voice-platform directives to the router's /directives route,
// authenticating as its own compute unit.
//
// The forwarder holds no store or registry access. It refuses to start
// unless its policy allows invoking the route it forwards to.
package skill
