// Package user is the Identity Store: one record per linked account, keyed
// by user id.
//
// Records are created the first time the endpoint handler sees a user and
// are updated when an account is linked through AcceptGrant. They are never
// deleted. Put is an upsert and the last write wins.
//
// Three backends implement Repository: SQLite (default), DynamoDB and an
// in-memory store. Guarded wraps any of them and checks each call against
// the holding compute unit's policy.
package user
