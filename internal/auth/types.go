package auth

import (
	"errors"
	"regexp"
	"time"

	"github.com/wagerline/wagerline-core/internal/tier"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// Role is the authorisation level of an account.
type Role string

const (
	// RoleUser is a punter. Device limits apply.
	RoleUser Role = "user"

	// RoleAdmin reviews device requests and manages accounts.
	// Admin logins are exempt from device limits.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of assignable roles.
var ValidRoles = []Role{RoleUser, RoleAdmin}

// IsValidRole returns true if r is an assignable role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Account is a login identity with its subscription.
type Account struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	DisplayName  string `json:"display_name"`
	PasswordHash string `json:"-"` // never serialised
	Role         Role   `json:"role"`

	Tier          tier.Tier  `json:"tier"`
	TierExpiresAt *time.Time `json:"tier_expires_at,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the account bypasses device limits.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Policy resolves the account's device policy at now.
func (a *Account) Policy(now time.Time, limits tier.Limits) tier.Policy {
	return tier.Resolve(a.Tier, a.TierExpiresAt, now, limits)
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrIdentifierExists   = errors.New("username, email or phone already in use")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
)
