package devicerequest

import (
	"errors"

	"github.com/wagerline/wagerline-core/internal/device"
)

// Domain errors for device requests.
var (
	// ErrRequestNotFound is returned when no request has the given id.
	ErrRequestNotFound = errors.New("device request: not found")

	// ErrApprovalConflict is returned when a request is no longer pending.
	ErrApprovalConflict = errors.New("device request: already processed")

	// ErrPendingExists is returned when a pending request already covers
	// the same device.
	ErrPendingExists = errors.New("device request: pending request exists")

	// ErrInvalidRequest is matched by every *ValidationError.
	ErrInvalidRequest = errors.New("device request: invalid")
)

// ValidationError explains why an approval could not proceed. It carries
// the account's active devices so the reviewer can choose which to free,
// and the per-device results of any deactivation that was attempted.
type ValidationError struct {
	Message       string                      `json:"message"`
	MaxDevices    int                         `json:"max_devices"`
	ActiveDevices []device.Device             `json:"active_devices,omitempty"`
	Results       []device.DeactivationResult `json:"results,omitempty"`
}

func (e *ValidationError) Error() string {
	return "device request: " + e.Message
}

// Is lets errors.Is(err, ErrInvalidRequest) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest
}
