// Package admission decides, on every login, whether the presented device
// may hold one of the account's session slots.
//
// A decision is made inside a single IMMEDIATE store transaction: the tier
// policy is resolved, the device is looked up by fingerprint, the active
// device count is compared with the tier limit, and either the device is
// admitted (and a session issued in the same transaction) or the login is
// routed to the administrator workflow in package devicerequest.
//
// The persisted active count never exceeds the tier limit: after admitting a
// device the count is read again, and if a concurrent admission filled the
// last slot the transaction is rolled back and the login becomes a request.
//
// Usage:
//
//	engine := admission.NewEngine(db.DB, admission.Config{Limits: limits}, issuer)
//	out, err := engine.Decide(ctx, acc, meta)
//	if err != nil {
//	    // store unavailable or invalid metadata: fail closed
//	}
//	if err := out.Err(); err != nil {
//	    // *LimitReachedError with the request id
//	}
package admission
