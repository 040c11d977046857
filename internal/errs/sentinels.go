// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication (bad credentials, bad token).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates a policy denied the caller.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed input rejected before any store access.
	ErrValidation = errors.New("validation")

	// ErrRoleNotFound indicates the target role is not in the role catalog.
	ErrRoleNotFound = errors.New("role not found")

	// ErrAssignmentFailed indicates the store rejected a role add/remove.
	ErrAssignmentFailed = errors.New("role assignment failed")

	// ErrPartialReassignment indicates the new role was added but the old ones
	// could not be removed, leaving the account with more than one role.
	ErrPartialReassignment = errors.New("partial role reassignment")

	// ErrMisconfigured indicates a fatal configuration problem (signing key, policies).
	ErrMisconfigured = errors.New("misconfigured")
)
