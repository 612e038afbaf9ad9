// Package auth signs and verifies the identities that travel with requests.
//
// Two kinds of HS256 token share one secret. Unit tokens identify a compute
// unit (the skill forwarder) to the router's authorizer, which then checks
// the unit's policy for execute-api:Invoke. User tokens identify a linked
// account inside voice-platform directives; the Resolver turns them into a
// user id, honouring the development token when it is enabled.
//
// Grant codes received during account linking are stored only as Argon2id
// hashes (HashSecret).
package auth
