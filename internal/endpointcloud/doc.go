// Package endpointcloud is the endpoint handler: the only compute unit that
// reads or writes the endpoint and identity stores and talks to the device
// registry.
//
// It serves three routes:
//
//	GET|POST|DELETE /endpoints   endpoint records
//	POST /directives             voice-platform directives
//	POST /events                 device-originated state reports
//
// The same state ingestion behind /events also consumes reported state from
// the device bus (endpointcloud/things/+/shadow/reported).
//
// Every request runs under the function timeout; a request that exceeds it
// is answered with 503 and its context is cancelled.
package endpointcloud
