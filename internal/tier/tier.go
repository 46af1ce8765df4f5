// Package tier resolves an account's subscription tier into the device
// policy the admission engine enforces.
package tier

import (
	"errors"
	"fmt"
	"time"
)

// Tier is a subscription level.
type Tier string

// Supported tiers.
const (
	Basic       Tier = "basic"
	Premium     Tier = "premium"
	PremiumPlus Tier = "premium_plus"
)

// Default device limits for the paid tiers.
const (
	DefaultPremiumMaxDevices     = 2
	DefaultPremiumPlusMaxDevices = 3
)

// basicMaxDevices is fixed: Basic and lapsed tiers get one device.
const basicMaxDevices = 1

// ErrUnknownTier is returned by Parse for strings outside the supported set.
var ErrUnknownTier = errors.New("unknown tier")

// Limits are the configurable per-tier device ceilings.
type Limits struct {
	Premium     int
	PremiumPlus int
}

// DefaultLimits returns the stock ceilings.
func DefaultLimits() Limits {
	return Limits{
		Premium:     DefaultPremiumMaxDevices,
		PremiumPlus: DefaultPremiumPlusMaxDevices,
	}
}

// Policy is the outcome of resolving a tier at a point in time.
type Policy struct {
	// Active reports whether the subscription has not lapsed.
	Active bool `json:"active"`

	// EffectiveTier is the tier whose limits apply. A lapsed paid tier
	// resolves to Basic.
	EffectiveTier Tier `json:"effective_tier"`

	MaxDevices int `json:"max_devices"`

	// ExclusiveSession means a new login invalidates every other session of
	// the account.
	ExclusiveSession bool `json:"exclusive_session"`
}

// Resolve computes the device policy for tier t with optional expiry at now.
// Unknown tiers resolve as Basic. A non-positive limit falls back to the default.
func Resolve(t Tier, expiry *time.Time, now time.Time, limits Limits) Policy {
	active := expiry == nil || expiry.After(now)

	if !active {
		return Policy{Active: false, EffectiveTier: Basic, MaxDevices: basicMaxDevices, ExclusiveSession: true}
	}

	switch t {
	case Premium:
		return Policy{Active: true, EffectiveTier: Premium, MaxDevices: orDefault(limits.Premium, DefaultPremiumMaxDevices)}
	case PremiumPlus:
		return Policy{Active: true, EffectiveTier: PremiumPlus, MaxDevices: orDefault(limits.PremiumPlus, DefaultPremiumPlusMaxDevices)}
	default:
		return Policy{Active: true, EffectiveTier: Basic, MaxDevices: basicMaxDevices, ExclusiveSession: true}
	}
}

func orDefault(n, def int) int {
	if n < 1 {
		return def
	}
	return n
}

// Parse validates s as a tier name.
func Parse(s string) (Tier, error) {
	switch t := Tier(s); t {
	case Basic, Premium, PremiumPlus:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// String implements fmt.Stringer.
func (t Tier) String() string {
	return string(t)
}

// IsPaid reports whether t is one of the multi-device tiers.
func (t Tier) IsPaid() bool {
	return t == Premium || t == PremiumPlus
}
