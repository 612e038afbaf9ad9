// Package database provides SQLite connectivity for Endpoint Cloud.
//
// SQLite is the default backend for the Identity and Endpoint stores and the
// only backend of the local device registry. This package manages:
//   - Connection setup with WAL mode and busy timeout
//   - Embedded, versioned schema migrations (see the migrations package)
//   - Health checks and transactions
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a matching
// .down.sql, and applied versions are tracked in schema_migrations.
package database
