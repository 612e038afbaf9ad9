// Package logging provides structured logging for Endpoint Cloud.
//
// It wraps log/slog so the router, both compute units and the infrastructure
// clients write entries with the same shape:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Every entry carries service and version fields. Components add their own
// field with With("component", ...).
//
// Never log bearer tokens, grant codes or OAuth secrets.
package logging
