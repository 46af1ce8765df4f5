package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// AccountRepository defines the interface for account persistence.
type AccountRepository interface {
	Create(ctx context.Context, acc *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByIdentifier looks an account up by username, email or phone.
	GetByIdentifier(ctx context.Context, identifier string) (*Account, error)

	List(ctx context.Context, filter AccountFilter) ([]Account, error)
	Update(ctx context.Context, acc *Account) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Count(ctx context.Context) (int, error)
}

// AccountFilter narrows List. Zero values match everything.
type AccountFilter struct {
	Role   Role
	Tier   tier.Tier
	Search string // prefix of username, email or phone
	Limit  int    // default 50, max 200
	Offset int
}

// SQLiteAccountRepository implements AccountRepository using SQLite.
type SQLiteAccountRepository struct {
	db database.Querier
}

// NewAccountRepository creates a new SQLite-backed account repository.
func NewAccountRepository(db database.Querier) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

const accountColumns = `id, username, email, phone, display_name, password_hash, role,
	tier, tier_expires_at, is_active, created_at, updated_at`

// Create inserts a new account. The ID is generated if empty.
func (r *SQLiteAccountRepository) Create(ctx context.Context, acc *Account) error {
	if acc.ID == "" {
		acc.ID = "acc-" + uuid.NewString()[:8]
	}
	if acc.Role == "" {
		acc.Role = RoleUser
	}
	if acc.Tier == "" {
		acc.Tier = tier.Basic
	}

	now := time.Now().UTC().Format(time.RFC3339)
	acc.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	acc.UpdatedAt = acc.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.Username, nullString(acc.Email), nullString(acc.Phone), acc.DisplayName,
		acc.PasswordHash, string(acc.Role), string(acc.Tier), nullTime(acc.TierExpiresAt),
		boolToInt(acc.IsActive), now, now,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrIdentifierExists
		}
		return fmt.Errorf("creating account: %w", database.Unavailable(err))
	}
	return nil
}

// GetByID retrieves an account by its unique ID.
func (r *SQLiteAccountRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

// GetByIdentifier matches username exactly, and email case-insensitively.
func (r *SQLiteAccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrAccountNotFound
	}
	return r.getAccount(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE username = ? OR lower(email) = lower(?) OR phone = ?
		 ORDER BY CASE WHEN username = ? THEN 0 ELSE 1 END
		 LIMIT 1`,
		identifier, identifier, identifier, identifier,
	)
}

// List returns accounts ordered by creation date.
func (r *SQLiteAccountRepository) List(ctx context.Context, filter AccountFilter) ([]Account, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Role != "" {
		conditions = append(conditions, "role = ?")
		args = append(args, string(filter.Role))
	}
	if filter.Tier != "" {
		conditions = append(conditions, "tier = ?")
		args = append(args, string(filter.Tier))
	}
	if filter.Search != "" {
		conditions = append(conditions, "(username LIKE ? OR email LIKE ? OR phone LIKE ?)")
		like := filter.Search + "%"
		args = append(args, like, like, like)
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // WHERE built from parameterised conditions
		`SELECT `+accountColumns+` FROM accounts `+where+` ORDER BY created_at ASC, id LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", database.Unavailable(err))
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return accounts, nil
}

// Update modifies an account's mutable fields: display name, email, phone,
// role, tier, tier expiry and active flag.
func (r *SQLiteAccountRepository) Update(ctx context.Context, acc *Account) error {
	now := time.Now().UTC().Format(time.RFC3339)
	acc.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET display_name = ?, email = ?, phone = ?, role = ?, tier = ?,
			tier_expires_at = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		acc.DisplayName, nullString(acc.Email), nullString(acc.Phone), string(acc.Role),
		string(acc.Tier), nullTime(acc.TierExpiresAt), boolToInt(acc.IsActive), now, acc.ID,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrIdentifierExists
		}
		return fmt.Errorf("updating account: %w", database.Unavailable(err))
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdatePassword changes an account's password hash.
func (r *SQLiteAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", database.Unavailable(err))
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Count returns the total number of accounts.
func (r *SQLiteAccountRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", database.Unavailable(err))
	}
	return count, nil
}

func (r *SQLiteAccountRepository) getAccount(ctx context.Context, query string, args ...any) (*Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx, query, args...))
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*Account, error) {
	var a Account
	var email, phone, expiresAt sql.NullString
	var role, tierName string
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&a.ID, &a.Username, &email, &phone, &a.DisplayName,
		&a.PasswordHash, &role, &tierName, &expiresAt, &isActive,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", database.Unavailable(err))
	}

	a.Role = Role(role)
	a.Tier = tier.Tier(tierName)
	a.IsActive = isActive != 0
	a.Email = email.String
	a.Phone = phone.String
	if expiresAt.Valid {
		if t, err := time.Parse(time.RFC3339, expiresAt.String); err == nil {
			a.TierExpiresAt = &t
		}
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &a, nil
}

// Helper functions.

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
