package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// LogoutResult reports what a logout changed.
type LogoutResult struct {
	DeviceID        string `json:"device_id,omitempty"`
	Deactivated     bool   `json:"deactivated"`
	RemainingActive int    `json:"remaining_active_devices"`
	RevokedSessions int64  `json:"revoked_sessions"`
}

// Handler applies logout: the device is released and sessions are revoked
// according to the account's tier.
type Handler struct {
	db      *sql.DB
	limits  tier.Limits
	timeout time.Duration
	now     func() time.Time
}

// NewHandler creates a logout handler on db. timeout bounds the store
// transaction; a non-positive value uses database.DefaultOperationTimeout.
func NewHandler(db *sql.DB, limits tier.Limits, timeout time.Duration) *Handler {
	return &Handler{db: db, limits: limits, timeout: timeout, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// Logout deactivates the device identified by fingerprintID, or the device
// bound to currentSessionID when no fingerprint is given, and revokes its
// sessions. Basic accounts lose every session. Premium accounts lose every
// session only when no active device remains. The caller's own session is
// revoked only when it belongs to the device being logged out. Logging out an
// unknown or already inactive device is not an error.
func (h *Handler) Logout(ctx context.Context, acc *auth.Account, fingerprintID, currentSessionID string) (*LogoutResult, error) {
	ctx, cancel := database.WithTimeout(ctx, h.timeout)
	defer cancel()

	now := h.now().UTC()
	policy := acc.Policy(now, h.limits)
	result := &LogoutResult{}

	err := database.InTx(ctx, h.db, func(tx *sql.Tx) error {
		devices := device.NewSQLiteRepository(tx)
		sessions := NewSQLiteRepository(tx)

		dev, err := h.resolveDevice(ctx, devices, sessions, acc.ID, fingerprintID, currentSessionID)
		if err != nil {
			return err
		}

		if dev != nil {
			result.DeviceID = dev.ID
			result.Deactivated = dev.IsActive
			if err := devices.Deactivate(ctx, acc.ID, dev.FingerprintID, now); err != nil {
				return err
			}
			n, err := sessions.RevokeDevice(ctx, dev.ID, "", ReasonLogout, now)
			if err != nil {
				return err
			}
			result.RevokedSessions += n
		}

		current, err := h.currentSession(ctx, sessions, acc.ID, currentSessionID)
		if err != nil {
			return err
		}
		// Logging out another device leaves the caller signed in.
		if current != nil && (fingerprintID == "" || (dev != nil && dev.ID == current.DeviceID)) {
			revoked, err := sessions.Revoke(ctx, current.ID, ReasonLogout, now)
			if err != nil {
				return err
			}
			if revoked {
				result.RevokedSessions++
			}
		}

		remaining, err := devices.CountActive(ctx, acc.ID, "")
		if err != nil {
			return err
		}
		result.RemainingActive = remaining

		if policy.ExclusiveSession || remaining == 0 {
			n, err := sessions.RevokeAccount(ctx, acc.ID, "", ReasonLogout, now)
			if err != nil {
				return err
			}
			result.RevokedSessions += n
		}
		return nil
	})
	if err != nil {
		return nil, database.Unavailable(err)
	}
	return result, nil
}

func (h *Handler) resolveDevice(ctx context.Context, devices *device.SQLiteRepository, sessions *SQLiteRepository, accountID, fingerprintID, sessionID string) (*device.Device, error) {
	if fingerprintID != "" {
		dev, err := devices.FindByFingerprint(ctx, accountID, fingerprintID)
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, nil
		}
		return dev, err
	}
	sess, err := h.currentSession(ctx, sessions, accountID, sessionID)
	if err != nil || sess == nil {
		return nil, err
	}

	dev, err := devices.GetByID(ctx, sess.DeviceID)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return nil, nil
	}
	return dev, err
}

// currentSession returns the caller's session, or nil when it is absent or
// belongs to another account.
func (h *Handler) currentSession(ctx context.Context, sessions *SQLiteRepository, accountID, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	sess, err := sessions.GetByID(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.AccountID != accountID {
		return nil, nil
	}
	return sess, nil
}

// RevokeDevices revokes the sessions of every listed device on q.
func RevokeDevices(ctx context.Context, q database.Querier, deviceIDs []string, reason string, now time.Time) (int64, error) {
	repo := NewSQLiteRepository(q)
	var total int64
	for _, id := range deviceIDs {
		n, err := repo.RevokeDevice(ctx, id, "", reason, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
