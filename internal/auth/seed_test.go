package auth

import (
	"context"
	"log/slog"
	"testing"

	"github.com/wagerline/wagerline-core/internal/testutil"
)

func TestSeedAdmin_CreatesOnEmptyDB(t *testing.T) {
	repo := NewAccountRepository(testutil.OpenDB(t))
	ctx := context.Background()

	password, err := SeedAdmin(ctx, repo, slog.Default())
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password == "" {
		t.Fatal("SeedAdmin() should return generated password")
	}

	admin, err := repo.GetByIdentifier(ctx, "admin")
	if err != nil {
		t.Fatalf("GetByIdentifier(admin) error = %v", err)
	}
	if admin.Role != RoleAdmin {
		t.Errorf("Role = %q, want %q", admin.Role, RoleAdmin)
	}
	if !admin.IsActive {
		t.Error("seed admin should be active")
	}

	ok, err := VerifyPassword(password, admin.PasswordHash)
	if err != nil {
		t.Fatalf("VerifyPassword() error = %v", err)
	}
	if !ok {
		t.Error("generated password should verify against stored hash")
	}
}

func TestSeedAdmin_SkipsWhenAccountsExist(t *testing.T) {
	db := testutil.OpenDB(t)
	testutil.InsertAccount(t, db, "acc-existing", "basic")
	repo := NewAccountRepository(db)
	ctx := context.Background()

	password, err := SeedAdmin(ctx, repo, slog.Default())
	if err != nil {
		t.Fatalf("SeedAdmin() error = %v", err)
	}
	if password != "" {
		t.Error("SeedAdmin() should return empty password when accounts exist")
	}

	count, _ := repo.Count(ctx) //nolint:errcheck // asserted below
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}
