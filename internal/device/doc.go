// Package device provides the Device Registry for the Wagerline access core.
//
// The registry is the persistent record of every physical device that has
// logged in to an account. A device is identified within its account by the
// caller-asserted fingerprint; the registry never infers identity from IP,
// platform or any other metadata.
//
// # Key Types
//
//   - Device: a registered device with its latest metadata and activity state
//   - Metadata: what a client reports about itself at login
//   - DeactivationResult: per-device outcome of a bulk deactivation
//
// # Usage
//
//	repo := device.NewSQLiteRepository(tx) // *sql.DB or *sql.Tx
//
//	active, err := repo.CountActive(ctx, accountID, "")
//	if err != nil {
//	    return err
//	}
//	dev, err := repo.UpsertActivate(ctx, accountID, meta, now)
//
// # Transactions
//
// SQLiteRepository runs against a database.Querier. Callers that need the
// count-then-write sequence to be atomic (admission, approval) build the
// repository on the *sql.Tx opened by database.InTx.
//
// # Invariants
//
//   - (account_id, fingerprint_id) is unique
//   - Deactivate is idempotent and never deletes history
package device
