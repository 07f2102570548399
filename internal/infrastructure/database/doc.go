// Package database opens the SQLite file behind the option journal and
// keeps its schema current.
//
// The schema ships as forward-only *.up.sql files (see the migrations
// package). Migrate applies the missing ones in version order and records
// each in schema_migrations; SchemaVersion reports the newest applied one
// for the startup log.
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
