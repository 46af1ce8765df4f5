// Package database provides SQLite connectivity for the Wagerline access core.
//
// This package manages:
//   - Database connection with WAL mode and IMMEDIATE transactions
//   - Schema migrations registered from an fs.FS
//   - Transaction helpers shared by the repositories (Querier, InTx)
//   - Classification of store failures (ErrStoreUnavailable, IsUniqueViolation)
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Transactions:
//
// The pool holds a single connection. Code running inside InTx must use the
// *sql.Tx it is handed; touching the *sql.DB from inside the callback blocks
// until the context deadline and surfaces as ErrStoreUnavailable.
//
// Migration Strategy:
//
// Each version has an .up.sql and a .down.sql file named
// YYYYMMDD_HHMMSS_description.{up,down}.sql. Migrate applies pending
// versions oldest first; MigrateDown reverts the newest.
package database
