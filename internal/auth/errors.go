package auth

import "errors"

// Signing errors.
var (
	// ErrMissingCredentials indicates an empty access key id or secret key.
	ErrMissingCredentials = errors.New("access key id and secret access key are required")

	// ErrInvalidSigningInput indicates a request that cannot be signed.
	ErrInvalidSigningInput = errors.New("invalid signing input")
)
