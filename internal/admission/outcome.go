package admission

import (
	"errors"
	"fmt"

	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/devicerequest"
	"github.com/wagerline/wagerline-core/internal/session"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// Kind is the result class of an admission decision.
type Kind string

// Decision kinds.
const (
	KindAdmit                Kind = "admit"
	KindAdmitViaReactivation Kind = "admit_via_reactivation"
	KindRejectPending        Kind = "reject_pending"
	KindRejectNewRequest     Kind = "reject_new_request"
)

// Admitted reports whether the kind grants a session.
func (k Kind) Admitted() bool {
	return k == KindAdmit || k == KindAdmitViaReactivation
}

// Outcome is the committed result of Decide.
type Outcome struct {
	Kind   Kind        `json:"outcome"`
	Policy tier.Policy `json:"policy"`

	// Device is set when the device was admitted.
	Device *device.Device `json:"device,omitempty"`

	// Request is the pending admission request of a rejected login.
	Request *devicerequest.AdmissionRequest `json:"request,omitempty"`

	// CurrentDeviceCount is the account's active device count after the
	// decision committed.
	CurrentDeviceCount int `json:"current_device_count"`
	MaxDevices         int `json:"max_devices"`

	// PriorActiveCount is how many other devices were active before this
	// login. It drives the session revocation rule.
	PriorActiveCount int `json:"prior_active_count"`

	// Session is the freshly issued session when an issuer is configured.
	Session *session.Issued `json:"-"`
}

// Err returns nil for admitted outcomes and a *LimitReachedError otherwise.
func (o *Outcome) Err() error {
	if o.Kind.Admitted() {
		return nil
	}
	e := &LimitReachedError{
		Pending:            o.Kind == KindRejectPending,
		CurrentDeviceCount: o.CurrentDeviceCount,
		MaxDevices:         o.MaxDevices,
	}
	if o.Request != nil {
		e.RequestID = o.Request.ID
	}
	return e
}

// Limit errors. Every *LimitReachedError matches ErrLimitReached and exactly
// one of the two specific sentinels.
var (
	ErrLimitReached               = errors.New("admission: device limit reached")
	ErrLimitReachedPendingExists  = errors.New("admission: device limit reached, request already pending")
	ErrLimitReachedRequestCreated = errors.New("admission: device limit reached, request created")
)

// LimitReachedError carries what a client needs to show "awaiting approval".
type LimitReachedError struct {
	// Pending is true when the request already existed before this login.
	Pending            bool
	RequestID          string
	CurrentDeviceCount int
	MaxDevices         int
}

func (e *LimitReachedError) Error() string {
	state := "created"
	if e.Pending {
		state = "pending"
	}
	return fmt.Sprintf("admission: device limit reached (%d/%d), request %s %s",
		e.CurrentDeviceCount, e.MaxDevices, e.RequestID, state)
}

// Is matches ErrLimitReached and the sentinel for the request state.
func (e *LimitReachedError) Is(target error) bool {
	switch target {
	case ErrLimitReached:
		return true
	case ErrLimitReachedPendingExists:
		return e.Pending
	case ErrLimitReachedRequestCreated:
		return !e.Pending
	}
	return false
}
