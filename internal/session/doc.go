// Package session issues, validates and revokes login sessions.
//
// Every successful admission mints a fresh HS256 token bound to one
// device_sessions row (the token's sid) and one device (did). A token is
// honoured only while its row is unrevoked and unexpired and its device is
// still active, so deactivating a device or logging out takes effect on the
// next request without waiting for token expiry.
//
// Revocation follows the account's tier:
//   - Basic (and any lapsed tier): a login revokes every other session of
//     the account, so exactly one device is signed in
//   - Premium tiers: a login revokes only earlier sessions of the same
//     device, unless it is the first active device of the account
package session
