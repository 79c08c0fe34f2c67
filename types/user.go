package types

import "time"

// User represents an account in the system.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Salt is the random per-user value mixed into password hashing.
	// Never exposed in API responses.
	Salt string `json:"-" db:"salt"`

	// PasswordHash stores the PBKDF2 digest of the user's password.
	// Never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Token is the user's current session secret, empty when no session
	// is active. At most one token is active per user at any time.
	Token string `json:"-" db:"token"`

	// TokenExpiry is the epoch second after which Token stops validating.
	// Zero when no session is active.
	TokenExpiry int64 `json:"-" db:"token_expiry"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SessionActive reports whether the user currently holds a token.
func (u User) SessionActive() bool {
	return u.Token != ""
}
