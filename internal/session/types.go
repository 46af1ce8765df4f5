package session

import (
	"errors"
	"time"
)

// Session is one issued token's server-side record.
type Session struct {
	ID           string     `json:"id"`
	AccountID    string     `json:"account_id"`
	DeviceID     string     `json:"device_id"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// Live reports whether the session is unrevoked and unexpired at now.
func (s *Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Revocation reasons.
const (
	ReasonSuperseded        = "superseded"
	ReasonExclusiveLogin    = "exclusive_login"
	ReasonLogout            = "logout"
	ReasonDeviceDeactivated = "device_deactivated"
	ReasonDevicesCleared    = "devices_cleared"
)

// Sentinel errors. Every validation failure matches ErrSessionInvalid.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionInvalid  = errors.New("session invalid")
	ErrSessionRevoked  = &validationFailure{"session revoked"}
	ErrSessionExpired  = &validationFailure{"session expired"}
	ErrDeviceInactive  = &validationFailure{"device no longer active"}
)

type validationFailure struct{ msg string }

func (e *validationFailure) Error() string { return e.msg }

// Is lets errors.Is(err, ErrSessionInvalid) match every failure.
func (e *validationFailure) Is(target error) bool { return target == ErrSessionInvalid }
