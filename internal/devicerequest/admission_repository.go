package devicerequest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// AdmissionRepository persists admission requests.
type AdmissionRepository interface {
	// Create inserts a pending request. Returns ErrPendingExists when the
	// fingerprint already has one.
	Create(ctx context.Context, r *AdmissionRequest) error

	GetByID(ctx context.Context, id string) (*AdmissionRequest, error)

	// FindPending returns the pending request for the fingerprint.
	FindPending(ctx context.Context, accountID, fingerprintID string) (*AdmissionRequest, error)

	// FindRecentApproved returns the newest unconsumed approval for the
	// fingerprint reviewed at or after since.
	FindRecentApproved(ctx context.Context, accountID, fingerprintID string, since time.Time) (*AdmissionRequest, error)

	// Consume marks an approval as used by a login.
	Consume(ctx context.Context, id string, now time.Time) (bool, error)

	List(ctx context.Context, filter Filter) ([]AdmissionRequest, error)

	// Approve and Reject only touch pending rows and report whether they did.
	Approve(ctx context.Context, id, reviewerID string, now time.Time) (bool, error)
	Reject(ctx context.Context, id, reviewerID, reason string, now time.Time) (bool, error)
}

// SQLiteAdmissionRepository implements AdmissionRepository using SQLite.
type SQLiteAdmissionRepository struct {
	db database.Querier
}

// NewAdmissionRepository creates an admission request repository on db.
func NewAdmissionRepository(db database.Querier) *SQLiteAdmissionRepository {
	return &SQLiteAdmissionRepository{db: db}
}

const admissionColumns = `id, account_id, fingerprint_id, display_name, platform, os_version,
	app_version, ip, location, active_device_ids, tier, status, requested_at,
	reviewed_at, reviewed_by, rejection_reason, consumed_at`

// Create inserts a pending admission request.
func (r *SQLiteAdmissionRepository) Create(ctx context.Context, req *AdmissionRequest) error {
	ids, err := json.Marshal(req.ActiveDeviceIDs)
	if err != nil {
		return fmt.Errorf("encoding active device ids: %w", err)
	}
	if req.Status == "" {
		req.Status = StatusPending
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO admission_requests (
			id, account_id, fingerprint_id, display_name, platform, os_version,
			app_version, ip, location, active_device_ids, tier, status, requested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.AccountID, req.FingerprintID, req.DisplayName, req.Platform, req.OSVersion,
		req.AppVersion, req.IP, req.Location, string(ids), string(req.Tier), string(req.Status),
		req.RequestedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrPendingExists
		}
		return fmt.Errorf("inserting admission request: %w", database.Unavailable(err))
	}
	return nil
}

// GetByID returns an admission request by id.
func (r *SQLiteAdmissionRepository) GetByID(ctx context.Context, id string) (*AdmissionRequest, error) {
	return r.queryOne(ctx,
		`SELECT `+admissionColumns+` FROM admission_requests WHERE id = ?`, id)
}

// FindPending returns the fingerprint's pending request.
func (r *SQLiteAdmissionRepository) FindPending(ctx context.Context, accountID, fingerprintID string) (*AdmissionRequest, error) {
	return r.queryOne(ctx,
		`SELECT `+admissionColumns+` FROM admission_requests
		 WHERE account_id = ? AND fingerprint_id = ? AND status = 'pending'`,
		accountID, fingerprintID)
}

// FindRecentApproved returns the newest unconsumed approval since the cutoff.
func (r *SQLiteAdmissionRepository) FindRecentApproved(ctx context.Context, accountID, fingerprintID string, since time.Time) (*AdmissionRequest, error) {
	return r.queryOne(ctx,
		`SELECT `+admissionColumns+` FROM admission_requests
		 WHERE account_id = ? AND fingerprint_id = ? AND status = 'approved'
		   AND consumed_at IS NULL AND reviewed_at >= ?
		 ORDER BY reviewed_at DESC LIMIT 1`,
		accountID, fingerprintID, since.UTC().Format(time.RFC3339))
}

// Consume stamps consumed_at on an unconsumed approval.
func (r *SQLiteAdmissionRepository) Consume(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.execChanged(ctx,
		`UPDATE admission_requests SET consumed_at = ?
		 WHERE id = ? AND status = 'approved' AND consumed_at IS NULL`,
		now.UTC().Format(time.RFC3339), id)
}

// List returns requests matching filter, newest first.
func (r *SQLiteAdmissionRepository) List(ctx context.Context, filter Filter) ([]AdmissionRequest, error) {
	where, args := filterClause(filter)
	args = append(args, filter.limit(), max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+admissionColumns+` FROM admission_requests`+where+`
		 ORDER BY requested_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing admission requests: %w", database.Unavailable(err))
	}
	defer rows.Close()

	requests := []AdmissionRequest{}
	for rows.Next() {
		req, err := scanAdmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning admission request: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating admission requests: %w", err)
	}
	return requests, nil
}

// Approve moves a pending request to approved.
func (r *SQLiteAdmissionRepository) Approve(ctx context.Context, id, reviewerID string, now time.Time) (bool, error) {
	return r.execChanged(ctx,
		`UPDATE admission_requests SET status = 'approved', reviewed_at = ?, reviewed_by = ?
		 WHERE id = ? AND status = 'pending'`,
		now.UTC().Format(time.RFC3339), reviewerID, id)
}

// Reject moves a pending request to rejected.
func (r *SQLiteAdmissionRepository) Reject(ctx context.Context, id, reviewerID, reason string, now time.Time) (bool, error) {
	return r.execChanged(ctx,
		`UPDATE admission_requests
		 SET status = 'rejected', reviewed_at = ?, reviewed_by = ?, rejection_reason = ?
		 WHERE id = ? AND status = 'pending'`,
		now.UTC().Format(time.RFC3339), reviewerID, nullString(reason), id)
}

// Supersede closes the fingerprint's pending request once the device has
// been admitted some other way. The request is rejected with no reviewer and
// SupersededReason. It reports whether a request was closed.
func (r *SQLiteAdmissionRepository) Supersede(ctx context.Context, accountID, fingerprintID string, now time.Time) (bool, error) {
	return r.execChanged(ctx,
		`UPDATE admission_requests
		 SET status = 'rejected', reviewed_at = ?, reviewed_by = NULL, rejection_reason = ?
		 WHERE account_id = ? AND fingerprint_id = ? AND status = 'pending'`,
		now.UTC().Format(time.RFC3339), SupersededReason, accountID, fingerprintID)
}

func (r *SQLiteAdmissionRepository) queryOne(ctx context.Context, query string, args ...any) (*AdmissionRequest, error) {
	req, err := scanAdmission(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("querying admission request: %w", database.Unavailable(err))
	}
	return req, nil
}

func (r *SQLiteAdmissionRepository) execChanged(ctx context.Context, query string, args ...any) (bool, error) {
	return execChanged(ctx, r.db, query, args...)
}

func execChanged(ctx context.Context, q database.Querier, query string, args ...any) (bool, error) {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating request: %w", database.Unavailable(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

func filterClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdmission(s rowScanner) (*AdmissionRequest, error) {
	var req AdmissionRequest
	var ids, tierStr, status, requestedAt string
	var reviewedAt, reviewedBy, reason, consumedAt sql.NullString

	err := s.Scan(
		&req.ID, &req.AccountID, &req.FingerprintID, &req.DisplayName, &req.Platform, &req.OSVersion,
		&req.AppVersion, &req.IP, &req.Location, &ids, &tierStr, &status, &requestedAt,
		&reviewedAt, &reviewedBy, &reason, &consumedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ids), &req.ActiveDeviceIDs); err != nil {
		return nil, fmt.Errorf("decoding active device ids: %w", err)
	}
	req.Tier = tier.Tier(tierStr)
	req.Status = Status(status)
	req.RequestedAt, _ = time.Parse(time.RFC3339, requestedAt) //nolint:errcheck // format is controlled
	req.ReviewedAt = parseNullableTime(reviewedAt)
	req.ReviewedBy = reviewedBy.String
	req.RejectionReason = reason.String
	req.ConsumedAt = parseNullableTime(consumedAt)
	return &req, nil
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
