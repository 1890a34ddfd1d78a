// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across storage/service layers.
var (
	// ErrNotFound indicates the requested entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the server rejected the credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoRefreshToken indicates a refresh was requested without a stored refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrClosed indicates an operation on a closed store.
	ErrClosed = errors.New("store closed")
)
