package devicerequest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/session"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// Logger defines the logging interface used by the Workflow.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Workflow reviews admission and deactivation requests.
//
// Thread Safety: safe for concurrent use. Every mutating call runs in its
// own store transaction.
type Workflow struct {
	db      *sql.DB
	limits  tier.Limits
	timeout time.Duration
	now     func() time.Time
	logger  Logger
}

// NewWorkflow creates a workflow on db. timeout bounds each store
// transaction; a non-positive value uses database.DefaultOperationTimeout.
func NewWorkflow(db *sql.DB, limits tier.Limits, timeout time.Duration) *Workflow {
	return &Workflow{db: db, limits: limits, timeout: timeout, now: time.Now, logger: noopLogger{}}
}

// SetLogger sets the logger. A nil logger disables logging.
func (w *Workflow) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	w.logger = logger
}

// SetClock replaces the time source. Intended for tests.
func (w *Workflow) SetClock(now func() time.Time) {
	w.now = now
}

func (w *Workflow) clock() time.Time {
	return w.now().UTC().Truncate(time.Second)
}

// ListAdmission returns admission requests matching filter.
func (w *Workflow) ListAdmission(ctx context.Context, filter Filter) ([]AdmissionRequest, error) {
	ctx, cancel := database.WithTimeout(ctx, w.timeout)
	defer cancel()
	return NewAdmissionRepository(w.db).List(ctx, filter)
}

// GetAdmission returns one admission request.
func (w *Workflow) GetAdmission(ctx context.Context, id string) (*AdmissionRequest, error) {
	ctx, cancel := database.WithTimeout(ctx, w.timeout)
	defer cancel()
	return NewAdmissionRepository(w.db).GetByID(ctx, id)
}

// ApproveAdmission admits the requested device, first deactivating the
// devices listed in freeDeviceIDs. When the account is at its limit and
// nothing is designated, or the designation does not make room, a
// *ValidationError is returned and nothing changes. A request that is no
// longer pending yields ErrApprovalConflict.
func (w *Workflow) ApproveAdmission(ctx context.Context, id, reviewerID string, freeDeviceIDs []string) (*ApprovalResult, error) {
	ctx, cancel := database.WithTimeout(ctx, w.timeout)
	defer cancel()

	now := w.clock()
	result := &ApprovalResult{}

	err := database.InTx(ctx, w.db, func(tx *sql.Tx) error {
		requests := NewAdmissionRepository(tx)
		devices := device.NewSQLiteRepository(tx)

		req, err := requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: request %s is %s", ErrApprovalConflict, id, req.Status)
		}

		acc, err := auth.NewAccountRepository(tx).GetByID(ctx, req.AccountID)
		if err != nil {
			return err
		}
		policy := acc.Policy(now, w.limits)

		// The requested device's own slot is never counted against it.
		excluding := ""
		if existing, err := devices.FindByFingerprint(ctx, acc.ID, req.FingerprintID); err == nil {
			excluding = existing.ID
		} else if !errors.Is(err, device.ErrDeviceNotFound) {
			return err
		}

		overLimit := func() (bool, error) {
			if acc.IsAdmin() {
				return false, nil
			}
			n, err := devices.CountActive(ctx, acc.ID, excluding)
			if err != nil {
				return false, err
			}
			return n >= policy.MaxDevices, nil
		}

		mustFree, err := overLimit()
		if err != nil {
			return err
		}
		if mustFree && len(freeDeviceIDs) == 0 {
			active, err := devices.ListActive(ctx, acc.ID)
			if err != nil {
				return err
			}
			return &ValidationError{
				Message:       "account is at its device limit; choose devices to free",
				MaxDevices:    policy.MaxDevices,
				ActiveDevices: active,
			}
		}

		if len(freeDeviceIDs) > 0 {
			result.Freed = devices.DeactivateMany(ctx, acc.ID, freeDeviceIDs, now)
		}
		if mustFree && device.CountDeactivated(result.Freed) == 0 {
			return &ValidationError{
				Message:    "none of the designated devices could be deactivated",
				MaxDevices: policy.MaxDevices,
				Results:    result.Freed,
			}
		}

		stillOver, err := overLimit()
		if err != nil {
			return err
		}
		if stillOver {
			active, err := devices.ListActive(ctx, acc.ID)
			if err != nil {
				return err
			}
			return &ValidationError{
				Message:       "account is still at its device limit",
				MaxDevices:    policy.MaxDevices,
				ActiveDevices: active,
				Results:       result.Freed,
			}
		}

		dev, err := devices.Activate(ctx, acc.ID, req.Metadata(), now)
		if err != nil {
			return err
		}
		result.Device = dev

		if policy.ExclusiveSession {
			result.RevokedSessions, err = session.NewSQLiteRepository(tx).
				RevokeAccount(ctx, acc.ID, "", session.ReasonDeviceDeactivated, now)
		} else {
			result.RevokedSessions, err = session.RevokeDevices(ctx, tx,
				freedIDs(result.Freed), session.ReasonDeviceDeactivated, now)
		}
		if err != nil {
			return err
		}

		ok, err := requests.Approve(ctx, id, reviewerID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: request %s changed during approval", ErrApprovalConflict, id)
		}

		result.Request, err = requests.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, database.Unavailable(err)
	}

	w.logger.Info("admission request approved",
		"request_id", id,
		"account_id", result.Request.AccountID,
		"device_id", result.Device.ID,
		"freed", device.CountDeactivated(result.Freed),
		"reviewed_by", reviewerID,
	)
	return result, nil
}

// RejectAdmission closes a pending admission request without touching devices.
func (w *Workflow) RejectAdmission(ctx context.Context, id, reviewerID, reason string) (*AdmissionRequest, error) {
	ctx, cancel := database.WithTimeout(ctx, w.timeout)
	defer cancel()

	repo := NewAdmissionRepository(w.db)
	ok, err := repo.Reject(ctx, id, reviewerID, reason, w.clock())
	if err != nil {
		return nil, err
	}
	req, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %s is %s", ErrApprovalConflict, id, req.Status)
	}

	w.logger.Info("admission request rejected", "request_id", id, "account_id", req.AccountID, "reviewed_by", reviewerID)
	return req, nil
}

// SubmitDeactivation files a request to release one of the account's own
// devices. A device belonging to another account is reported as
// device.ErrDeviceNotFound.
func (w *Workflow) SubmitDeactivation(ctx context.Context, accountID, deviceID, reason string) (*DeactivationRequest, error) {
	ctx, cancel := database.WithTimeout(ctx, w.timeout)
	defer cancel()

	dev, err := device.NewSQLiteRepository(w.db).GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if dev.AccountID != accountID {
		return nil, device.ErrDeviceNotFound
	}

	req := &DeactivationRequest{
		AccountID:     accountID,
		DeviceID:      dev.ID,
		FingerprintID: dev.FingerprintID,
		Reason:        reason,
		RequestedAt:   w.clock(),
	}
	if err := NewDeactivationRepository(w.db).Create(ctx, req); err != nil {
		return nil, err
	}

	w.logger.Info("deactivation request submitted", "request_id", req.ID, "account_id", accountID, "device_id", deviceID)
	return req, nil
}

// ListDeactivation returns deactivation requests matching filter.
func (w *Workflow) ListDeactivation(ctx context.Context, filter Filter) ([]DeactivationRequest, error) {
	ctx, cancel := database.WithTimeout(ctx, w.timeout)
	defer cancel()
	return NewDeactivationRepository(w.db).List(ctx, filter)
}

// GetDeactivation returns one deactivation request.
func (w *Workflow) GetDeactivation(ctx context.Context, id string) (*DeactivationRequest, error) {
	ctx, cancel := database.WithTimeout(ctx, w.timeout)
	defer cancel()
	return NewDeactivationRepository(w.db).GetByID(ctx, id)
}

// ApproveDeactivation deactivates the requested device and revokes its
// sessions. Exclusive tiers, and accounts left with no active device, lose
// every session.
func (w *Workflow) ApproveDeactivation(ctx context.Context, id, reviewerID string) (*DeactivationResult, error) {
	ctx, cancel := database.WithTimeout(ctx, w.timeout)
	defer cancel()

	now := w.clock()
	result := &DeactivationResult{}

	err := database.InTx(ctx, w.db, func(tx *sql.Tx) error {
		requests := NewDeactivationRepository(tx)
		sessions := session.NewSQLiteRepository(tx)
		devices := device.NewSQLiteRepository(tx)

		req, err := requests.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: request %s is %s", ErrApprovalConflict, id, req.Status)
		}

		acc, err := auth.NewAccountRepository(tx).GetByID(ctx, req.AccountID)
		if err != nil {
			return err
		}

		result.Deactivated, err = devices.DeactivateByID(ctx, acc.ID, req.DeviceID, now)
		if err != nil {
			return err
		}
		n, err := sessions.RevokeDevice(ctx, req.DeviceID, "", session.ReasonDeviceDeactivated, now)
		if err != nil {
			return err
		}
		result.RevokedSessions = n

		remaining, err := devices.CountActive(ctx, acc.ID, "")
		if err != nil {
			return err
		}
		if acc.Policy(now, w.limits).ExclusiveSession || remaining == 0 {
			n, err := sessions.RevokeAccount(ctx, acc.ID, "", session.ReasonDeviceDeactivated, now)
			if err != nil {
				return err
			}
			result.RevokedSessions += n
		}

		ok, err := requests.Approve(ctx, id, reviewerID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: request %s changed during approval", ErrApprovalConflict, id)
		}

		result.Request, err = requests.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, database.Unavailable(err)
	}

	w.logger.Info("deactivation request approved",
		"request_id", id,
		"device_id", result.Request.DeviceID,
		"reviewed_by", reviewerID,
	)
	return result, nil
}

// RejectDeactivation closes a pending deactivation request.
func (w *Workflow) RejectDeactivation(ctx context.Context, id, reviewerID, reason string) (*DeactivationRequest, error) {
	ctx, cancel := database.WithTimeout(ctx, w.timeout)
	defer cancel()

	repo := NewDeactivationRepository(w.db)
	ok, err := repo.Reject(ctx, id, reviewerID, reason, w.clock())
	if err != nil {
		return nil, err
	}
	req, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %s is %s", ErrApprovalConflict, id, req.Status)
	}

	w.logger.Info("deactivation request rejected", "request_id", id, "reviewed_by", reviewerID)
	return req, nil
}

func freedIDs(results []device.DeactivationResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.Outcome == device.OutcomeDeactivated {
			ids = append(ids, r.DeviceID)
		}
	}
	return ids
}
