// Package alexa models the smart-home voice platform's message envelopes
// (payload version 3): inbound directives, outbound responses and error
// responses, and the ChangeReport/StateReport events devices send back.
//
// The package has no I/O. The directive dispatcher builds responses with
// it and the skill forwarder only needs the types to relay them.
package alexa
