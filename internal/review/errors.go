package review

import "errors"

// Engine error taxonomy. Every failure surfaced by ApplyTransition wraps
// exactly one of these sentinels so callers can classify with errors.Is.
var (
	// ErrForbidden means the caller role is not permitted for the
	// transition. Role checks run before state preconditions.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTransition means the transition is not legal from the
	// entity's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation means a required field is missing or malformed,
	// e.g. an empty rejection reason or a missing linked id.
	ErrValidation = errors.New("validation error")

	// ErrIntegrityViolation means the recomputed package hash does not
	// match the stored hash. It blocks approval but never drops the
	// package.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrNotFound means the entity id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrConflictRetry means the per-entity lock stayed contended past
	// the internal retry budget. Callers should retry.
	ErrConflictRetry = errors.New("conflict, retry")
)
