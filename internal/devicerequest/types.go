package devicerequest

import (
	"time"

	"github.com/google/uuid"

	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// Status is the lifecycle state of a request.
type Status string

// Request states. Approved and rejected are terminal.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// SupersededReason is the rejection reason of a pending admission request
// closed because its device was admitted through a free slot.
const SupersededReason = "superseded: device admitted"

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// AdmissionRequest asks an administrator to let a device in over the limit.
// Device metadata, tier and the active device ids are snapshots taken when
// the request was filed.
type AdmissionRequest struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`

	FingerprintID string `json:"fingerprint_id"`
	DisplayName   string `json:"display_name"`
	Platform      string `json:"platform,omitempty"`
	OSVersion     string `json:"os_version,omitempty"`
	AppVersion    string `json:"app_version,omitempty"`
	IP            string `json:"ip,omitempty"`
	Location      string `json:"location,omitempty"`

	ActiveDeviceIDs []string  `json:"active_device_ids"`
	Tier            tier.Tier `json:"tier"`

	Status          Status     `json:"status"`
	RequestedAt     time.Time  `json:"requested_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`

	// ConsumedAt is set once a login has used the approval.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// NewAdmissionRequest snapshots a rejected login into a pending request.
func NewAdmissionRequest(accountID string, meta device.Metadata, activeIDs []string, t tier.Tier, now time.Time) *AdmissionRequest {
	if activeIDs == nil {
		activeIDs = []string{}
	}
	return &AdmissionRequest{
		ID:              "adr-" + uuid.NewString()[:8],
		AccountID:       accountID,
		FingerprintID:   meta.FingerprintID,
		DisplayName:     meta.Label(),
		Platform:        meta.Platform,
		OSVersion:       meta.OSVersion,
		AppVersion:      meta.AppVersion,
		IP:              meta.IP,
		Location:        meta.Location,
		ActiveDeviceIDs: activeIDs,
		Tier:            t,
		Status:          StatusPending,
		RequestedAt:     now.UTC().Truncate(time.Second),
	}
}

// Metadata returns the snapshotted device metadata.
func (r *AdmissionRequest) Metadata() device.Metadata {
	return device.Metadata{
		FingerprintID: r.FingerprintID,
		DisplayName:   r.DisplayName,
		Platform:      r.Platform,
		OSVersion:     r.OSVersion,
		AppVersion:    r.AppVersion,
		IP:            r.IP,
		Location:      r.Location,
	}
}

// DeactivationRequest asks an administrator to release one of the
// account's devices.
type DeactivationRequest struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	DeviceID      string `json:"device_id"`
	FingerprintID string `json:"fingerprint_id"`
	Reason        string `json:"reason,omitempty"`

	Status          Status     `json:"status"`
	RequestedAt     time.Time  `json:"requested_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// Filter narrows request listings. Zero values match everything.
type Filter struct {
	Status    Status
	AccountID string
	Limit     int // default 50, max 200
	Offset    int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f Filter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}

// ApprovalResult reports everything an admission approval changed.
type ApprovalResult struct {
	Request         *AdmissionRequest           `json:"request"`
	Device          *device.Device              `json:"device"`
	Freed           []device.DeactivationResult `json:"freed,omitempty"`
	RevokedSessions int64                       `json:"revoked_sessions"`
}

// DeactivationResult reports what approving a deactivation request changed.
type DeactivationResult struct {
	Request         *DeactivationRequest `json:"request"`
	Deactivated     bool                 `json:"deactivated"`
	RevokedSessions int64                `json:"revoked_sessions"`
}
