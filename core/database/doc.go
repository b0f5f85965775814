// Package database handles connections to the local cache database and schema inspection.
//
// It wraps GORM to configure either an embedded SQLite file (the default for a single
// client process) or a MySQL server, based on the application's configuration.
//
// # Connect
//
// Connect opens the database selected by Config.Driver. SQLite pools are pinned to a single
// connection because the cache assumes one local writer; foreign keys are not enforced since
// cached rows may legitimately reference parents that have not been fetched yet.
//
// # Schema Inspection
//
// GetTableColumns and MissingColumns let the cache store verify, after migration, that every
// parent-key column referenced by a cascade edge exists on the child table.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
//
//	missing, err := database.MissingColumns(db, "accounts", "provider_account_id")
package database
