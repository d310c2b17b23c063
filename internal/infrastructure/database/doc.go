// Package database provides SQLite database connectivity for Gatehouse.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations (embedded, additive-only)
//   - Connection pooling and lifecycle management
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//   - Password hashes are stored, never plaintext secrets
//
// Performance Characteristics:
//   - WAL mode allows concurrent reads during writes
//   - Busy timeout prevents lock contention errors
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Run migrations
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration Strategy:
//
// Migrations are additive-only to support safe rollbacks:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Never DROP or RENAME columns
//   - Each migration file has both .up.sql and .down.sql
package database
