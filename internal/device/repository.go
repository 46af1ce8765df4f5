package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
)

// Repository defines the device persistence operations.
type Repository interface {
	// FindByFingerprint returns the account's device with that fingerprint.
	// Returns ErrDeviceNotFound if there is none.
	FindByFingerprint(ctx context.Context, accountID, fingerprintID string) (*Device, error)

	// GetByID returns a device by id. Returns ErrDeviceNotFound if absent.
	GetByID(ctx context.Context, id string) (*Device, error)

	// ListByAccount returns every device of the account, newest first.
	ListByAccount(ctx context.Context, accountID string) ([]Device, error)

	// ListActive returns the account's active devices, most recently used first.
	ListActive(ctx context.Context, accountID string) ([]Device, error)

	// CountActive counts active devices of the account, skipping excludingID
	// when it is non-empty.
	CountActive(ctx context.Context, accountID, excludingID string) (int, error)

	// UpsertActivate records a login: the device is created or refreshed,
	// marked active, and its login count incremented.
	UpsertActivate(ctx context.Context, accountID string, meta Metadata, now time.Time) (*Device, error)

	// Activate creates or reactivates a device without counting a login.
	Activate(ctx context.Context, accountID string, meta Metadata, now time.Time) (*Device, error)

	// Deactivate marks the fingerprint's device inactive. Absent or already
	// inactive devices are not an error.
	Deactivate(ctx context.Context, accountID, fingerprintID string, now time.Time) error

	// DeactivateByID marks one device inactive and reports whether it changed.
	// Returns ErrDeviceNotFound if the device is not the account's.
	DeactivateByID(ctx context.Context, accountID, deviceID string, now time.Time) (bool, error)

	// DeactivateMany deactivates each listed device and reports per-device outcomes.
	DeactivateMany(ctx context.Context, accountID string, deviceIDs []string, now time.Time) []DeactivationResult

	// DeleteAll removes every device of the account.
	DeleteAll(ctx context.Context, accountID string) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db database.Querier
}

// NewSQLiteRepository creates a device repository on db, which may be a
// *sql.DB or a *sql.Tx.
func NewSQLiteRepository(db database.Querier) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, account_id, fingerprint_id, display_name, platform, os_version,
	app_version, last_ip, last_location, is_active, login_count, last_login_at,
	deactivated_at, created_at, updated_at`

// FindByFingerprint returns the account's device with that fingerprint.
func (r *SQLiteRepository) FindByFingerprint(ctx context.Context, accountID, fingerprintID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE account_id = ? AND fingerprint_id = ?`,
		accountID, fingerprintID,
	)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by fingerprint: %w", database.Unavailable(err))
	}
	return d, nil
}

// GetByID returns a device by id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", database.Unavailable(err))
	}
	return d, nil
}

// ListByAccount returns every device of the account.
func (r *SQLiteRepository) ListByAccount(ctx context.Context, accountID string) ([]Device, error) {
	return r.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE account_id = ?
		 ORDER BY created_at DESC, id`,
		accountID,
	)
}

// ListActive returns the account's active devices.
func (r *SQLiteRepository) ListActive(ctx context.Context, accountID string) ([]Device, error) {
	return r.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE account_id = ? AND is_active = 1
		 ORDER BY COALESCE(last_login_at, created_at) DESC, id`,
		accountID,
	)
}

// CountActive counts active devices of the account.
func (r *SQLiteRepository) CountActive(ctx context.Context, accountID, excludingID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE account_id = ? AND is_active = 1 AND id != ?`,
		accountID, excludingID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active devices: %w", database.Unavailable(err))
	}
	return count, nil
}

// UpsertActivate records a login for the device.
func (r *SQLiteRepository) UpsertActivate(ctx context.Context, accountID string, meta Metadata, now time.Time) (*Device, error) {
	return r.activate(ctx, accountID, meta, now, true)
}

// Activate creates or reactivates the device without counting a login.
func (r *SQLiteRepository) Activate(ctx context.Context, accountID string, meta Metadata, now time.Time) (*Device, error) {
	return r.activate(ctx, accountID, meta, now, false)
}

func (r *SQLiteRepository) activate(ctx context.Context, accountID string, meta Metadata, now time.Time, countLogin bool) (*Device, error) {
	existing, err := r.FindByFingerprint(ctx, accountID, meta.FingerprintID)
	switch {
	case err == nil:
		if err := r.refresh(ctx, existing.ID, meta, now, countLogin); err != nil {
			return nil, err
		}
		return r.GetByID(ctx, existing.ID)
	case !errors.Is(err, ErrDeviceNotFound):
		return nil, err
	}

	id := GenerateID()
	if err := r.insert(ctx, id, accountID, meta, now, countLogin); err != nil {
		if !database.IsUniqueViolation(err) {
			return nil, err
		}
		// Another login for the same fingerprint inserted first.
		winner, findErr := r.FindByFingerprint(ctx, accountID, meta.FingerprintID)
		if findErr != nil {
			return nil, findErr
		}
		if err := r.refresh(ctx, winner.ID, meta, now, countLogin); err != nil {
			return nil, err
		}
		id = winner.ID
	}
	return r.GetByID(ctx, id)
}

func (r *SQLiteRepository) insert(ctx context.Context, id, accountID string, meta Metadata, now time.Time, countLogin bool) error {
	ts := now.UTC().Format(time.RFC3339)
	loginCount := 0
	var lastLogin sql.NullString
	if countLogin {
		loginCount = 1
		lastLogin = sql.NullString{String: ts, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (
			id, account_id, fingerprint_id, display_name, platform, os_version,
			app_version, last_ip, last_location, is_active, login_count, last_login_at,
			deactivated_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, NULL, ?, ?)`,
		id, accountID, meta.FingerprintID, meta.Label(), meta.Platform, meta.OSVersion,
		meta.AppVersion, meta.IP, meta.Location, loginCount, lastLogin, ts, ts,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("inserting device: %w", database.Unavailable(err))
	}
	return nil
}

// refresh reactivates a device and overwrites metadata the client reported.
// Empty fields keep the stored value.
func (r *SQLiteRepository) refresh(ctx context.Context, id string, meta Metadata, now time.Time, countLogin bool) error {
	ts := now.UTC().Format(time.RFC3339)

	query := `
		UPDATE devices SET
			display_name = COALESCE(NULLIF(?, ''), display_name),
			platform = COALESCE(NULLIF(?, ''), platform),
			os_version = COALESCE(NULLIF(?, ''), os_version),
			app_version = COALESCE(NULLIF(?, ''), app_version),
			last_ip = COALESCE(NULLIF(?, ''), last_ip),
			last_location = COALESCE(NULLIF(?, ''), last_location),
			is_active = 1,
			deactivated_at = NULL,
			updated_at = ?`
	args := []any{meta.DisplayName, meta.Platform, meta.OSVersion, meta.AppVersion, meta.IP, meta.Location, ts}
	if countLogin {
		query += `, login_count = login_count + 1, last_login_at = ?`
		args = append(args, ts)
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("refreshing device: %w", database.Unavailable(err))
	}
	return nil
}

// Deactivate marks the fingerprint's device inactive.
func (r *SQLiteRepository) Deactivate(ctx context.Context, accountID, fingerprintID string, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx,
		`UPDATE devices SET is_active = 0, deactivated_at = ?, updated_at = ?
		 WHERE account_id = ? AND fingerprint_id = ? AND is_active = 1`,
		ts, ts, accountID, fingerprintID,
	)
	if err != nil {
		return fmt.Errorf("deactivating device: %w", database.Unavailable(err))
	}
	return nil
}

// DeactivateByID marks one device inactive.
func (r *SQLiteRepository) DeactivateByID(ctx context.Context, accountID, deviceID string, now time.Time) (bool, error) {
	ts := now.UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET is_active = 0, deactivated_at = ?, updated_at = ?
		 WHERE id = ? AND account_id = ? AND is_active = 1`,
		ts, ts, deviceID, accountID,
	)
	if err != nil {
		return false, fmt.Errorf("deactivating device: %w", database.Unavailable(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows > 0 {
		return true, nil
	}

	d, err := r.GetByID(ctx, deviceID)
	if err != nil {
		return false, err
	}
	if d.AccountID != accountID {
		return false, ErrDeviceNotFound
	}
	return false, nil
}

// DeactivateMany deactivates each listed device.
// Duplicate ids are reported once.
func (r *SQLiteRepository) DeactivateMany(ctx context.Context, accountID string, deviceIDs []string, now time.Time) []DeactivationResult {
	results := make([]DeactivationResult, 0, len(deviceIDs))
	seen := make(map[string]struct{}, len(deviceIDs))

	for _, id := range deviceIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		changed, err := r.DeactivateByID(ctx, accountID, id, now)
		switch {
		case errors.Is(err, ErrDeviceNotFound):
			results = append(results, DeactivationResult{DeviceID: id, Outcome: OutcomeNotFound})
		case err != nil:
			results = append(results, DeactivationResult{DeviceID: id, Outcome: OutcomeError, Error: err.Error()})
		case changed:
			results = append(results, DeactivationResult{DeviceID: id, Outcome: OutcomeDeactivated})
		default:
			results = append(results, DeactivationResult{DeviceID: id, Outcome: OutcomeAlreadyInactive})
		}
	}
	return results
}

// DeleteAll removes every device of the account. Sessions and deactivation
// requests bound to those devices go with them.
func (r *SQLiteRepository) DeleteAll(ctx context.Context, accountID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE account_id = ?", accountID)
	if err != nil {
		return 0, fmt.Errorf("deleting devices: %w", database.Unavailable(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", database.Unavailable(err))
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", database.Unavailable(err))
	}
	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var isActive int
	var lastLoginAt, deactivatedAt sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.AccountID,
		&d.FingerprintID,
		&d.DisplayName,
		&d.Platform,
		&d.OSVersion,
		&d.AppVersion,
		&d.LastIP,
		&d.LastLocation,
		&isActive,
		&d.LoginCount,
		&lastLoginAt,
		&deactivatedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.IsActive = isActive != 0
	d.LastLoginAt = parseNullableTime(lastLoginAt)
	d.DeactivatedAt = parseNullableTime(deactivatedAt)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &d, nil
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
