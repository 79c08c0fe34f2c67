package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/achievehub/apiserver/internal/auth"
	"github.com/achievehub/apiserver/internal/store"
	"github.com/achievehub/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionTTL = 24 * time.Hour
	refreshTTL = 7 * 24 * time.Hour
)

// UserRepository defines persistence operations for user credentials
// and sessions.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByToken(ctx context.Context, token string) (types.User, error)
	SetToken(ctx context.Context, userID int, token string, expiry int64) error
	ClearToken(ctx context.Context, userID int) error
	SetPassword(ctx context.Context, userID int, salt, hash string) error
}

// Session is the credential pair handed to a client after login or refresh.
type Session struct {
	Token        string
	RefreshToken string
	Username     string
}

// SessionService owns the per-user session state machine: no session,
// then one active (token, expiry) pair, then no session again. Issuing
// always overwrites the previous token, so at most one session is active
// per user.
type SessionService struct {
	repo   UserRepository
	secret []byte
	now    func() time.Time
}

func NewSessionService(repo UserRepository, jwtSecret string) *SessionService {
	return &SessionService{
		repo:   repo,
		secret: []byte(jwtSecret),
		now:    time.Now,
	}
}

// Login verifies the credential pair and issues a fresh session.
func (s *SessionService) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}

	if !auth.VerifyPassword(password, user.Salt, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}

	return s.issue(ctx, user)
}

// Validate resolves a bearer token into the user holding it. Expiry is a
// comparison at read time; the stale row stays in place until the next
// login overwrites it.
func (s *SessionService) Validate(ctx context.Context, token string) (types.User, error) {
	if token == "" {
		return types.User{}, ErrUnauthenticated
	}

	user, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUnauthenticated
		}
		return types.User{}, err
	}

	if s.now().Unix() > user.TokenExpiry {
		return types.User{}, ErrUnauthenticated
	}
	return user, nil
}

// Logout revokes the user's current session. Subsequent validations of the
// old token fail immediately.
func (s *SessionService) Logout(ctx context.Context, userID int) error {
	return s.repo.ClearToken(ctx, userID)
}

// ChangePassword verifies the old password, replaces salt and hash, and
// revokes the current session as a side effect.
func (s *SessionService) ChangePassword(ctx context.Context, user types.User, oldPassword, newPassword string) error {
	if !auth.VerifyPassword(oldPassword, user.Salt, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	salt, hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.repo.SetPassword(ctx, user.ID, salt, hash)
}

// Refresh exchanges a still-valid refresh credential for a fresh session
// without re-entering a password. The credential is bound to the session it
// was issued with, so logout, password change, or re-login all void it.
// Refreshing rotates the session exactly like login.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	userID, sessionDigest, err := s.parseRefreshToken(refreshToken)
	if err != nil {
		return Session{}, ErrUnauthenticated
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrUnauthenticated
		}
		return Session{}, err
	}

	if !user.SessionActive() || digest(user.Token) != sessionDigest {
		return Session{}, ErrUnauthenticated
	}

	return s.issue(ctx, user)
}

func (s *SessionService) issue(ctx context.Context, user types.User) (Session, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return Session{}, err
	}

	expiry := s.now().Add(sessionTTL).Unix()
	if err := s.repo.SetToken(ctx, user.ID, token, expiry); err != nil {
		return Session{}, fmt.Errorf("store session token: %w", err)
	}

	refreshToken, err := s.signRefreshToken(user.ID, token)
	if err != nil {
		return Session{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		Username:     user.Username,
	}, nil
}

type refreshClaims struct {
	// SID binds the refresh credential to the session issued with it.
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

func (s *SessionService) signRefreshToken(userID int, sessionToken string) (string, error) {
	now := s.now()
	claims := refreshClaims{
		SID: digest(sessionToken),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(refreshTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *SessionService) parseRefreshToken(tokenString string) (userID int, sessionDigest string, err error) {
	claims := refreshClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", errors.New("invalid token")
	}
	if claims.SID == "" {
		return 0, "", errors.New("missing session binding")
	}

	userID, err = strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || userID < 1 {
		return 0, "", errors.New("invalid subject")
	}
	return userID, claims.SID, nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
