package auth

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// testDB creates a temporary SQLite database with the gatehouse schema applied.
// The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	// Use a temp file so WAL mode works (in-memory doesn't support it)
	f, err := os.CreateTemp("", "auth-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schemaSQL := `
		CREATE TABLE principals (
			id TEXT PRIMARY KEY,
			identifier TEXT,
			external_id TEXT,
			provider TEXT,
			display_name TEXT NOT NULL,
			password_hash TEXT,
			roles TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;

		CREATE UNIQUE INDEX idx_principals_identifier
			ON principals(identifier) WHERE identifier IS NOT NULL;
		CREATE UNIQUE INDEX idx_principals_external
			ON principals(provider, external_id) WHERE external_id IS NOT NULL;

		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			principal_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schemaSQL); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return db
}

// seedTestPrincipal creates an active local principal with the given
// identifier, secret, and roles, and returns it.
func seedTestPrincipal(t *testing.T, repo PrincipalRepository, identifier, secret string, roles ...Role) *Principal {
	t.Helper()

	hash, err := HashPassword(secret, MinBcryptCost)
	if err != nil {
		t.Fatalf("hashing test password: %v", err)
	}

	p := &Principal{
		Identifier:   identifier,
		DisplayName:  "Test " + identifier,
		PasswordHash: hash,
		Roles:        roles,
		IsActive:     true,
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("creating test principal: %v", err)
	}
	return p
}
