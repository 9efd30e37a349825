// Package database provides the SQLite store used for snapshot history.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - Applying embedded, versioned schema migrations
//   - Health checks for the daemon's startup and health loop
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql, with an
// optional matching .down.sql. Each migration runs in its own transaction
// and is recorded in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/osmbridge.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
