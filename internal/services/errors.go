package services

import "errors"

var (
	// ErrInvalidCredentials signals a wrong username/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthenticated signals a missing, unknown, expired, or
	// superseded session credential.
	ErrUnauthenticated = errors.New("unauthenticated")
)
