// Package database opens the service's SQLite file and applies the
// embedded schema migrations.
//
// The file holds two tables besides schema_migrations: the device
// directory written by firmware self-registration and the command audit
// history. Both are small, so the pool is held to one connection and WAL
// mode keeps API reads from waiting on registry writes.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are YYYYMMDD_HHMMSS_description.up.sql, optionally
// paired with a .down.sql. Added columns must be nullable or defaulted.
package database
