package tier

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Minute)
	limits := DefaultLimits()

	tests := []struct {
		name   string
		tier   Tier
		expiry *time.Time
		want   Policy
	}{
		{"basic no expiry", Basic, nil, Policy{Active: true, EffectiveTier: Basic, MaxDevices: 1, ExclusiveSession: true}},
		{"premium no expiry", Premium, nil, Policy{Active: true, EffectiveTier: Premium, MaxDevices: 2}},
		{"premium future expiry", Premium, &future, Policy{Active: true, EffectiveTier: Premium, MaxDevices: 2}},
		{"premium plus", PremiumPlus, nil, Policy{Active: true, EffectiveTier: PremiumPlus, MaxDevices: 3}},
		{"premium lapsed", Premium, &past, Policy{Active: false, EffectiveTier: Basic, MaxDevices: 1, ExclusiveSession: true}},
		{"premium plus lapsed", PremiumPlus, &past, Policy{Active: false, EffectiveTier: Basic, MaxDevices: 1, ExclusiveSession: true}},
		{"expiry equal to now is lapsed", Premium, &now, Policy{Active: false, EffectiveTier: Basic, MaxDevices: 1, ExclusiveSession: true}},
		{"unknown tier acts as basic", Tier("gold"), nil, Policy{Active: true, EffectiveTier: Basic, MaxDevices: 1, ExclusiveSession: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.tier, tt.expiry, now, limits))
		})
	}
}

func TestResolve_ConfiguredLimits(t *testing.T) {
	now := time.Now()

	p := Resolve(PremiumPlus, nil, now, Limits{Premium: 4, PremiumPlus: 6})
	assert.Equal(t, 6, p.MaxDevices)

	p = Resolve(Premium, nil, now, Limits{})
	assert.Equal(t, DefaultPremiumMaxDevices, p.MaxDevices, "zero limit falls back to default")
}

func TestParse(t *testing.T) {
	for _, s := range []string{"basic", "premium", "premium_plus"} {
		got, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, Tier(s), got)
	}

	_, err := Parse("Premium")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTier))
}

func TestTier_IsPaid(t *testing.T) {
	assert.False(t, Basic.IsPaid())
	assert.True(t, Premium.IsPaid())
	assert.True(t, PremiumPlus.IsPaid())
}
