package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wagerline/wagerline-core/internal/auth"
	"github.com/wagerline/wagerline-core/internal/device"
	"github.com/wagerline/wagerline-core/internal/infrastructure/database"
	"github.com/wagerline/wagerline-core/internal/tier"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = 7 * 24 * time.Hour

// Issued is a freshly minted token and its session row.
type Issued struct {
	Token     string    `json:"token"`
	Session   Session   `json:"session"`
	ExpiresAt time.Time `json:"expires_at"`

	// Revoked counts other sessions invalidated by this issue.
	Revoked int64 `json:"revoked_sessions"`
}

// Issuer mints session tokens and checks them on every request.
type Issuer struct {
	secret string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer signing with secret. A non-positive ttl
// falls back to DefaultTTL.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// TTL returns the token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue mints a token for acc on dev and applies the tier's revocation rule.
// priorActive is the number of the account's other active devices before
// this admission. Everything runs on q so it commits with the admission.
func (i *Issuer) Issue(ctx context.Context, q database.Querier, acc *auth.Account, dev *device.Device, priorActive int, policy tier.Policy) (*Issued, error) {
	now := i.now().UTC().Truncate(time.Second)
	repo := NewSQLiteRepository(q)

	sess := &Session{
		ID:        GenerateID(),
		AccountID: acc.ID,
		DeviceID:  dev.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := repo.Create(ctx, sess); err != nil {
		return nil, err
	}

	var revoked int64
	var err error
	if policy.ExclusiveSession || priorActive == 0 {
		revoked, err = repo.RevokeAccount(ctx, acc.ID, sess.ID, ReasonExclusiveLogin, now)
	} else {
		revoked, err = repo.RevokeDevice(ctx, dev.ID, sess.ID, ReasonSuperseded, now)
	}
	if err != nil {
		return nil, err
	}

	token, err := auth.SignToken(auth.NewClaims(acc, sess.ID, dev.ID, now, i.ttl), i.secret)
	if err != nil {
		return nil, err
	}

	return &Issued{Token: token, Session: *sess, ExpiresAt: sess.ExpiresAt, Revoked: revoked}, nil
}

// Parse verifies the token signature and expiry.
func (i *Issuer) Parse(token string) (*auth.CustomClaims, error) {
	return auth.ParseToken(token, i.secret)
}

// Validate checks that the session named by claims is still live and that
// its device is still active. Errors match ErrSessionInvalid, or
// database.ErrStoreUnavailable when the store could not answer.
func (i *Issuer) Validate(ctx context.Context, q database.Querier, claims *auth.CustomClaims) (*Session, error) {
	sess, err := NewSQLiteRepository(q).GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: unknown session", ErrSessionInvalid)
		}
		return nil, err
	}

	if sess.AccountID != claims.Subject || (claims.DeviceID != "" && sess.DeviceID != claims.DeviceID) {
		return nil, fmt.Errorf("%w: session does not match token", ErrSessionInvalid)
	}
	if sess.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !i.now().Before(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	dev, err := device.NewSQLiteRepository(q).GetByID(ctx, sess.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, ErrDeviceInactive
		}
		return nil, err
	}
	if !dev.IsActive {
		return nil, ErrDeviceInactive
	}

	return sess, nil
}
