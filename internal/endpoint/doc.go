// Package endpoint is the Endpoint Store: one record per smart-home device,
// keyed by endpoint id, with a secondary lookup by owning user.
//
// Records hold the discovery description the voice platform needs
// (friendly name, display categories, capability interfaces) and the last
// known state. Put is an upsert and the last write wins; the store offers no
// versioning and no cross-record transactions. UpdateState merges keys into
// the stored state, with a JSON null removing a key.
//
// Backends: SQLite (default), DynamoDB with the byUserId index, and an
// in-memory store built on go-memdb. Guarded enforces the holder's grants.
package endpoint
