// Package testutil opens migrated SQLite databases for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	_ "github.com/wagerline/wagerline-core/migrations" // registers the embedded schema
)

// OpenDB returns a fresh database file under t.TempDir() with every
// migration applied. The database is closed when the test ends.
func OpenDB(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "wagerline.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// InsertAccount writes a bare account row so device and request rows have
// a parent. tier is one of basic, premium or premium_plus.
func InsertAccount(t testing.TB, db *database.DB, id, tier string) {
	t.Helper()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO accounts (id, username, password_hash, role, tier, is_active, created_at, updated_at)
		 VALUES (?, ?, 'x', 'user', ?, 1, ?, ?)`,
		id, id, tier, now, now,
	)
	if err != nil {
		t.Fatalf("inserting account %s: %v", id, err)
	}
}
