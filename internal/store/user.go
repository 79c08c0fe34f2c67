package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/achievehub/apiserver/internal/auth"
	"github.com/achievehub/apiserver/types"
)

// UserRepository handles persistence for user credentials and sessions.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, salt, password_hash, token, token_expiry, created_at`

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE username = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

// GetByToken resolves the user currently holding token. Cleared sessions
// store NULL, so a revoked token never matches.
func (r *UserRepository) GetByToken(ctx context.Context, token string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE token = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, token))
}

// SetToken stores a new session token and its expiry in a single statement,
// overwriting any prior session.
func (r *UserRepository) SetToken(ctx context.Context, userID int, token string, expiry int64) error {
	const query = `
		UPDATE users
		SET token = $1, token_expiry = $2
		WHERE id = $3`
	return r.execOne(ctx, query, token, expiry, userID)
}

// ClearToken revokes the user's current session.
func (r *UserRepository) ClearToken(ctx context.Context, userID int) error {
	const query = `
		UPDATE users
		SET token = NULL, token_expiry = NULL
		WHERE id = $1`
	return r.execOne(ctx, query, userID)
}

// SetPassword replaces the user's salt and hash and clears any active
// session in the same statement.
func (r *UserRepository) SetPassword(ctx context.Context, userID int, salt, hash string) error {
	const query = `
		UPDATE users
		SET salt = $1, password_hash = $2, token = NULL, token_expiry = NULL
		WHERE id = $3`
	return r.execOne(ctx, query, salt, hash, userID)
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	user.CreatedAt = time.Now()

	const query = `
		INSERT INTO users (username, salt, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Username,
		user.Salt,
		user.PasswordHash,
		user.CreatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// EnsureAdmin seeds the "admin" account with the given password if it does
// not exist yet. Running it repeatedly never creates duplicates.
func (r *UserRepository) EnsureAdmin(ctx context.Context, password string) (created bool, err error) {
	_, err = r.GetByUsername(ctx, "admin")
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	salt, hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := r.Create(ctx, types.User{Username: "admin", Salt: salt, PasswordHash: hash}); err != nil {
		return false, fmt.Errorf("seed admin user: %w", err)
	}
	return true, nil
}

func (r *UserRepository) scanUser(row *sql.Row) (types.User, error) {
	var (
		user   types.User
		token  sql.NullString
		expiry sql.NullInt64
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Salt,
		&user.PasswordHash,
		&token,
		&expiry,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.Token = token.String
	user.TokenExpiry = expiry.Int64
	return user, nil
}

func (r *UserRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
