package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// equaliseTiming burns one Argon2id verification so unknown identifiers
// take as long to reject as wrong passwords.
func equaliseTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("wagerline-timing-equaliser") //nolint:errcheck // empty hash just skips the burn
	})
	if dummyHash != "" {
		VerifyPassword(password, dummyHash) //nolint:errcheck // result is discarded
	}
}

// Authenticate verifies identifier (username, email or phone) and password.
//
// Unknown identifiers and wrong passwords both return ErrInvalidCredentials.
// A correct password on a disabled account returns ErrAccountInactive.
// Legacy bcrypt hashes are upgraded to Argon2id on success; a failed upgrade
// does not fail the login.
func Authenticate(ctx context.Context, repo AccountRepository, identifier, password string) (*Account, error) {
	acc, err := repo.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			equaliseTiming(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up account: %w", err)
	}

	ok, err := VerifyPassword(password, acc.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	if !acc.IsActive {
		return nil, ErrAccountInactive
	}

	if NeedsRehash(acc.PasswordHash) {
		if hash, err := HashPassword(password); err == nil {
			if repo.UpdatePassword(ctx, acc.ID, hash) == nil {
				acc.PasswordHash = hash
			}
		}
	}

	return acc, nil
}
