// Package directive executes voice-platform directives against the endpoint
// store, the identity store and the device registry.
//
// A Dispatcher decodes a directive envelope, resolves the caller from its
// bearer token and routes it by namespace:
//
//   - Alexa ReportState reads the shadow (reported, then desired, then the
//     stored endpoint state, then a per-interface default)
//   - Alexa.Authorization AcceptGrant exchanges the grant code for tokens
//   - Alexa.Discovery Discover lists the caller's endpoints
//   - Power, Toggle, Range, Mode and Cooking controllers write desired state
//     to the shadow and merge it into the endpoint record
//
// Every failure is returned as an ErrorResponse event rather than a Go error
// so the HTTP layer can relay it as is.
package directive
