/*
errors.go - Centralized error taxonomy for the sleep debt pipeline

PURPOSE:
  All error kinds in one place. Every layer classifies failures with
  errors.Is against the sentinels below; structured types carry context
  and unwrap to their sentinel.

ERROR CATEGORIES:
  ErrValidation          Bad input, rejected before persistence
  ErrAuth                Bad provider credentials (fatal, not retried)
  ErrAuthExpired         Stale session after one re-authentication attempt
  ErrRateLimited         Provider throttling (retried with backoff)
  ErrProviderUnavailable Network or server fault (retried, then fallback)
  ErrNormalization       Unrecognized per-day payload (day skipped)
  ErrStorage             Persistence fault (fatal, propagated unchanged)

PROPAGATION:
  - Normalization failures are counted by the orchestrator, never returned.
  - Auth / unavailable failures end the provider step; the orchestrator then
    either falls back to dummy data or reports a failed sync result.
  - Storage failures are returned as-is by every layer above the store.

SEE ALSO:
  - provider/errors.go: RateLimitError, NormalizationError
  - ingest/orchestrator.go: Fallback policy
  - api/handlers.go: HTTP status mapping
*/
package sleep

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when input fails validation before persistence.
	ErrValidation = errors.New("validation failed")

	// ErrAuth is returned when the provider rejects the configured credentials.
	ErrAuth = errors.New("provider authentication failed")

	// ErrAuthExpired is returned when a stale session could not be renewed
	// with a single re-authentication attempt.
	ErrAuthExpired = errors.New("provider session expired")

	// ErrRateLimited is returned when the provider throttles a request.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrProviderUnavailable is returned on network faults, 5xx responses,
	// an open circuit, or exhausted retries.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNormalization is returned when a per-day payload cannot be converted.
	ErrNormalization = errors.New("payload normalization failed")

	// ErrStorage is returned when the ledger or settings store fails.
	ErrStorage = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes which field was rejected and why.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StorageError wraps a driver-level failure with the store operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Is lets errors.Is match both ErrStorage and the wrapped driver error.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsFallbackEligible returns true if a failed provider step may be replaced
// by dummy data. Storage faults never are.
func IsFallbackEligible(err error) bool {
	if err == nil || errors.Is(err, ErrStorage) {
		return false
	}
	return errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrAuthExpired) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrNormalization)
}
