package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
)

// Repository persists device sessions.
type Repository interface {
	Create(ctx context.Context, s *Session) error

	// GetByID returns ErrSessionNotFound if absent.
	GetByID(ctx context.Context, id string) (*Session, error)

	// ListLive returns the account's unrevoked, unexpired sessions.
	ListLive(ctx context.Context, accountID string, now time.Time) ([]Session, error)

	// RevokeAccount revokes every live session of the account except exceptID.
	RevokeAccount(ctx context.Context, accountID, exceptID, reason string, now time.Time) (int64, error)

	// RevokeDevice revokes every live session of the device except exceptID.
	RevokeDevice(ctx context.Context, deviceID, exceptID, reason string, now time.Time) (int64, error)

	// Revoke revokes one session. Already revoked sessions are left alone.
	Revoke(ctx context.Context, id, reason string, now time.Time) (bool, error)

	// DeleteExpired removes sessions that expired before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db database.Querier
}

// NewSQLiteRepository creates a session repository on db.
func NewSQLiteRepository(db database.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GenerateID creates a new session id, used as the token's sid.
func GenerateID() string {
	return "ses-" + uuid.NewString()
}

// Create inserts a session. The ID is generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = GenerateID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_sessions (id, account_id, device_id, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.AccountID, s.DeviceID,
		s.IssuedAt.UTC().Format(time.RFC3339), s.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", database.Unavailable(err))
	}
	return nil
}

// GetByID returns a session by id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, device_id, issued_at, expires_at, revoked_at, revoke_reason
		 FROM device_sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("querying session: %w", database.Unavailable(err))
	}
	return s, nil
}

// ListLive returns the account's live sessions, newest first.
func (r *SQLiteRepository) ListLive(ctx context.Context, accountID string, now time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, device_id, issued_at, expires_at, revoked_at, revoke_reason
		 FROM device_sessions
		 WHERE account_id = ? AND revoked_at IS NULL AND expires_at > ?
		 ORDER BY issued_at DESC, id`,
		accountID, now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", database.Unavailable(err))
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// RevokeAccount revokes the account's live sessions except exceptID.
func (r *SQLiteRepository) RevokeAccount(ctx context.Context, accountID, exceptID, reason string, now time.Time) (int64, error) {
	return r.revokeWhere(ctx, "account_id = ?", accountID, exceptID, reason, now)
}

// RevokeDevice revokes the device's live sessions except exceptID.
func (r *SQLiteRepository) RevokeDevice(ctx context.Context, deviceID, exceptID, reason string, now time.Time) (int64, error) {
	return r.revokeWhere(ctx, "device_id = ?", deviceID, exceptID, reason, now)
}

func (r *SQLiteRepository) revokeWhere(ctx context.Context, cond, arg, exceptID, reason string, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions SET revoked_at = ?, revoke_reason = ?
		 WHERE `+cond+` AND id != ? AND revoked_at IS NULL`,
		now.UTC().Format(time.RFC3339), reason, arg, exceptID,
	)
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", database.Unavailable(err))
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// Revoke revokes one session.
func (r *SQLiteRepository) Revoke(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE device_sessions SET revoked_at = ?, revoke_reason = ?
		 WHERE id = ? AND revoked_at IS NULL`,
		now.UTC().Format(time.RFC3339), reason, id,
	)
	if err != nil {
		return false, fmt.Errorf("revoking session: %w", database.Unavailable(err))
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n > 0, nil
}

// DeleteExpired removes sessions that expired before cutoff.
func (r *SQLiteRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM device_sessions WHERE expires_at < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", database.Unavailable(err))
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(s rowScanner) (*Session, error) {
	var sess Session
	var issuedAt, expiresAt string
	var revokedAt, reason sql.NullString

	if err := s.Scan(&sess.ID, &sess.AccountID, &sess.DeviceID, &issuedAt, &expiresAt, &revokedAt, &reason); err != nil {
		return nil, err
	}

	sess.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)   //nolint:errcheck // format is controlled
	sess.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	if revokedAt.Valid {
		if t, err := time.Parse(time.RFC3339, revokedAt.String); err == nil {
			sess.RevokedAt = &t
		}
	}
	sess.RevokeReason = reason.String
	return &sess, nil
}
