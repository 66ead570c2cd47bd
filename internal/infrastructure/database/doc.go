// Package database provides SQLite database connectivity for Kwikset Bridge.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations (see the migrations package)
//   - Connection lifecycle and health checks
//
// The database holds the access-code ledger document and the local lock
// event log. Everything else the bridge knows is reconstructed from the
// cloud API at startup.
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
