// Package auth provides accounts, credentials and authorisation for the
// Wagerline access core.
//
// It implements:
//   - Account persistence with username, email or phone login identifiers
//   - Argon2id password hashing, with bcrypt verification for imported accounts
//   - HS256 JWT claims carrying the session id (sid) and device id (did)
//   - A two-role model (user, admin) with a static role-permission mapping
//
// Subscription tier and expiry live on the account; the device policy they
// imply is resolved by package tier.
package auth
