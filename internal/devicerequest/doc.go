// Package devicerequest holds the administrator-mediated device workflows.
//
// An AdmissionRequest is created when a login would push an account past
// its tier's device limit. A DeactivationRequest is filed by a user who wants
// one of their devices released. Both move from pending to exactly one of
// approved or rejected, and both transitions are conditional updates, so a
// second reviewer racing the first gets ErrApprovalConflict.
//
// Approving an admission request runs as one transaction: freeing the
// designated devices, materialising the requested device and revoking stale
// sessions either all commit or none do.
package devicerequest
