package device

import "time"

// Device is a physical client registered to one account.
type Device struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	FingerprintID string `json:"fingerprint_id"`

	// Latest reported metadata.
	DisplayName  string `json:"display_name"`
	Platform     string `json:"platform,omitempty"`
	OSVersion    string `json:"os_version,omitempty"`
	AppVersion   string `json:"app_version,omitempty"`
	LastIP       string `json:"last_ip,omitempty"`
	LastLocation string `json:"last_location,omitempty"`

	IsActive      bool       `json:"is_active"`
	LoginCount    int        `json:"login_count"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metadata is what a client reports about itself at login.
// IP is taken from the request, never from the body.
type Metadata struct {
	FingerprintID string `json:"fingerprint_id" validate:"required,max=255,printascii"`
	DisplayName   string `json:"display_name" validate:"max=100"`
	Platform      string `json:"platform" validate:"max=32"`
	OSVersion     string `json:"os_version" validate:"max=64"`
	AppVersion    string `json:"app_version" validate:"max=32"`
	IP            string `json:"-" validate:"omitempty,ip"`
	Location      string `json:"location" validate:"max=128"`
}

// Label returns a human-readable name for the device, falling back to the
// platform and then the fingerprint.
func (m Metadata) Label() string {
	switch {
	case m.DisplayName != "":
		return m.DisplayName
	case m.Platform != "":
		return m.Platform + " device"
	default:
		return m.FingerprintID
	}
}

// Outcome is the per-device result of DeactivateMany.
type Outcome string

// Deactivation outcomes.
const (
	OutcomeDeactivated     Outcome = "deactivated"
	OutcomeAlreadyInactive Outcome = "already_inactive"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeError           Outcome = "error"
)

// DeactivationResult reports what happened to one designated device.
type DeactivationResult struct {
	DeviceID string  `json:"device_id"`
	Outcome  Outcome `json:"outcome"`
	Error    string  `json:"error,omitempty"`
}

// CountDeactivated returns how many results actually freed a slot.
func CountDeactivated(results []DeactivationResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome == OutcomeDeactivated {
			n++
		}
	}
	return n
}

// IDs returns the ids of devs in order.
func IDs(devs []Device) []string {
	ids := make([]string, len(devs))
	for i := range devs {
		ids[i] = devs[i].ID
	}
	return ids
}
