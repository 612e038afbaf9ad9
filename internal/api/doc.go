// Package api implements the router: the public HTTP surface in front of the
// compute units, plus a WebSocket live feed.
//
// This package provides:
//   - Routes mounted from the deployment topology, each dispatched unchanged
//     to the handler of its integration
//   - A signed-identity authorizer on routes that require it
//   - Published outputs and a health endpoint
//   - A WebSocket hub that relays endpoint changes to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// A route marked SIGNED_IDENTITY accepts only bearer tokens issued to a
// compute unit whose policy allows execute-api:Invoke on that method and
// path. With the authorizer disabled every route is open.
package api
