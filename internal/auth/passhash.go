// Package auth implements password hashing and session token generation.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. Changing them invalidates every stored credential.
const (
	hashIterations = 100_000
	hashKeyLen     = 32
	saltBytes      = 16
)

// HashPassword derives a hex-encoded PBKDF2-HMAC-SHA256 digest of password
// under a freshly generated hex-encoded random salt. Empty passwords are
// hashed like any other input.
func HashPassword(password string) (salt, hash string, err error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	salt = hex.EncodeToString(raw)
	return salt, HashPasswordWith(password, salt), nil
}

// HashPasswordWith derives the digest of password under an existing salt.
func HashPasswordWith(password, salt string) string {
	digest := pbkdf2.Key([]byte(password), []byte(salt), hashIterations, hashKeyLen, sha256.New)
	return hex.EncodeToString(digest)
}

// VerifyPassword reports whether password matches the stored salt/hash pair.
// The comparison is constant time over the derived digest.
func VerifyPassword(password, salt, expected string) bool {
	got := HashPasswordWith(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// NewSessionToken returns a high-entropy URL-safe opaque token.
func NewSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
