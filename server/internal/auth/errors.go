package auth

import "errors"

var (
	// ErrMalformedInput is returned when a refresh identifier fails shape validation.
	// No store access happens before this check.
	ErrMalformedInput = errors.New("malformed refresh token")

	// ErrInvalidCredential covers unknown, revoked and expired refresh tokens.
	// Callers must not tell the sub-cases apart on the wire.
	ErrInvalidCredential = errors.New("invalid or expired refresh token")

	// ErrPrincipalInactive is returned when the owner of an otherwise valid
	// credential is no longer active or approved.
	ErrPrincipalInactive = errors.New("principal is not active")

	// ErrStoreFailure wraps persistence errors during issuance or rotation.
	ErrStoreFailure = errors.New("credential store failure")

	// ErrNotFound is returned by stores and directories for missing rows.
	ErrNotFound = errors.New("not found")

	// ErrInvalidToken is returned when an access token fails verification.
	ErrInvalidToken = errors.New("invalid access token")
)
