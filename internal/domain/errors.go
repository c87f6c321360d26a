// internal/domain/errors.go
package domain

import "errors"

// Validation errors are rejected before any I/O and are never persisted as
// transaction attempts.
var (
	ErrInvalidAmount    = errors.New("amount must be greater than zero and not exceed the configured ceiling")
	ErrInvalidEntryMode = errors.New("unknown entry mode")
	ErrInvalidType      = errors.New("unsupported transaction type")
	ErrInvalidRRN       = errors.New("rrn must be exactly 12 digits")
)

// Resource-not-ready errors. The caller triggers provisioning or a restart;
// the core does not retry these.
var (
	ErrKeyNotProvisioned = errors.New("no PIN key provisioned")
	ErrNotInitialized    = errors.New("store not initialized")
)

// Transient I/O errors, surfaced as a failed or ambiguous outcome.
var (
	ErrCardReadFailure      = errors.New("card read failed")
	ErrCardDetectCancelled  = errors.New("card detection cancelled")
	ErrAuthorizationTimeout = errors.New("authorization timed out")
	ErrAuthorizationNetwork = errors.New("authorization network error")
)

// ErrScriptApplication is non-fatal: issuer scripts never override the
// authorization decision.
var ErrScriptApplication = errors.New("issuer script application failed")

// ErrPersistenceFailure means the outcome could not be written after bounded
// retries. The caller must treat the outcome as unknown and consult the
// ledger; the core never claims success when persistence did not happen.
var ErrPersistenceFailure = errors.New("failed to persist transaction outcome")

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrReversalInProgress  = errors.New("reversal already in progress for this rrn")
	ErrAlreadyReversed     = errors.New("transaction already reversed")
)

// ErrUnwrapFailure is the uniform failure for key unwrapping. The concrete
// error names every attempted padding scheme but never which one came close.
var ErrUnwrapFailure = errors.New("key unwrap failed")
