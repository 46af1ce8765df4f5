package devicerequest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
)

// DeactivationRepository persists deactivation requests.
type DeactivationRepository interface {
	// Create inserts a pending request. Returns ErrPendingExists when the
	// device already has one.
	Create(ctx context.Context, r *DeactivationRequest) error

	GetByID(ctx context.Context, id string) (*DeactivationRequest, error)
	List(ctx context.Context, filter Filter) ([]DeactivationRequest, error)

	Approve(ctx context.Context, id, reviewerID string, now time.Time) (bool, error)
	Reject(ctx context.Context, id, reviewerID, reason string, now time.Time) (bool, error)
}

// SQLiteDeactivationRepository implements DeactivationRepository using SQLite.
type SQLiteDeactivationRepository struct {
	db database.Querier
}

// NewDeactivationRepository creates a deactivation request repository on db.
func NewDeactivationRepository(db database.Querier) *SQLiteDeactivationRepository {
	return &SQLiteDeactivationRepository{db: db}
}

const deactivationColumns = `id, account_id, device_id, fingerprint_id, reason, status,
	requested_at, reviewed_at, reviewed_by, rejection_reason`

// Create inserts a pending deactivation request. The ID is generated if empty.
func (r *SQLiteDeactivationRepository) Create(ctx context.Context, req *DeactivationRequest) error {
	if req.ID == "" {
		req.ID = "dcr-" + uuid.NewString()[:8]
	}
	if req.Status == "" {
		req.Status = StatusPending
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC().Truncate(time.Second)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deactivation_requests (id, account_id, device_id, fingerprint_id, reason, status, requested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.AccountID, req.DeviceID, req.FingerprintID, req.Reason, string(req.Status),
		req.RequestedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrPendingExists
		}
		return fmt.Errorf("inserting deactivation request: %w", database.Unavailable(err))
	}
	return nil
}

// GetByID returns a deactivation request by id.
func (r *SQLiteDeactivationRepository) GetByID(ctx context.Context, id string) (*DeactivationRequest, error) {
	req, err := scanDeactivation(r.db.QueryRowContext(ctx,
		`SELECT `+deactivationColumns+` FROM deactivation_requests WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("querying deactivation request: %w", database.Unavailable(err))
	}
	return req, nil
}

// List returns requests matching filter, newest first.
func (r *SQLiteDeactivationRepository) List(ctx context.Context, filter Filter) ([]DeactivationRequest, error) {
	where, args := filterClause(filter)
	args = append(args, filter.limit(), max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deactivationColumns+` FROM deactivation_requests`+where+`
		 ORDER BY requested_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deactivation requests: %w", database.Unavailable(err))
	}
	defer rows.Close()

	requests := []DeactivationRequest{}
	for rows.Next() {
		req, err := scanDeactivation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deactivation request: %w", err)
		}
		requests = append(requests, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deactivation requests: %w", err)
	}
	return requests, nil
}

// Approve moves a pending request to approved.
func (r *SQLiteDeactivationRepository) Approve(ctx context.Context, id, reviewerID string, now time.Time) (bool, error) {
	return execChanged(ctx, r.db,
		`UPDATE deactivation_requests SET status = 'approved', reviewed_at = ?, reviewed_by = ?
		 WHERE id = ? AND status = 'pending'`,
		now.UTC().Format(time.RFC3339), reviewerID, id)
}

// Reject moves a pending request to rejected.
func (r *SQLiteDeactivationRepository) Reject(ctx context.Context, id, reviewerID, reason string, now time.Time) (bool, error) {
	return execChanged(ctx, r.db,
		`UPDATE deactivation_requests
		 SET status = 'rejected', reviewed_at = ?, reviewed_by = ?, rejection_reason = ?
		 WHERE id = ? AND status = 'pending'`,
		now.UTC().Format(time.RFC3339), reviewerID, nullString(reason), id)
}

func scanDeactivation(s rowScanner) (*DeactivationRequest, error) {
	var req DeactivationRequest
	var status, requestedAt string
	var reviewedAt, reviewedBy, reason sql.NullString

	err := s.Scan(&req.ID, &req.AccountID, &req.DeviceID, &req.FingerprintID, &req.Reason, &status,
		&requestedAt, &reviewedAt, &reviewedBy, &reason)
	if err != nil {
		return nil, err
	}

	req.Status = Status(status)
	req.RequestedAt, _ = time.Parse(time.RFC3339, requestedAt) //nolint:errcheck // format is controlled
	req.ReviewedAt = parseNullableTime(reviewedAt)
	req.ReviewedBy = reviewedBy.String
	req.RejectionReason = reason.String
	return &req, nil
}
