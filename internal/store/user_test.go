package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUserRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "failed to create sqlmock")
	return NewUserRepository(db), mock, db
}

func userRows(id int, username, salt, hash string, token any, expiry any) *sqlmock.Rows {
	return sqlmock.
		NewRows([]string{"id", "username", "salt", "password_hash", "token", "token_expiry", "created_at"}).
		AddRow(id, username, salt, hash, token, expiry, time.Now())
}

func TestGetByUsername_Success(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").
		WithArgs("admin").
		WillReturnRows(userRows(1, "admin", "salt", "hash", nil, nil))

	user, err := repo.GetByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, user.ID)
	assert.Equal(t, "admin", user.Username)
	assert.Empty(t, user.Token)
	assert.Zero(t, user.TokenExpiry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByToken_Success(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	expiry := time.Now().Add(time.Hour).Unix()
	mock.ExpectQuery("SELECT (.+) FROM users WHERE token").
		WithArgs("tok123").
		WillReturnRows(userRows(1, "admin", "salt", "hash", "tok123", expiry))

	user, err := repo.GetByToken(context.Background(), "tok123")
	require.NoError(t, err)
	assert.Equal(t, "tok123", user.Token)
	assert.Equal(t, expiry, user.TokenExpiry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByToken_NotFound(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE token").
		WithArgs("unknown").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByToken(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetToken_WritesTokenAndExpiryTogether(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	mock.ExpectExec("UPDATE users").
		WithArgs("tok123", int64(1700000000), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetToken(context.Background(), 1, "tok123", 1700000000)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetToken_UnknownUser(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	mock.ExpectExec("UPDATE users").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 99).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetToken(context.Background(), 99, "tok", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearToken(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	mock.ExpectExec("UPDATE users SET token = NULL, token_expiry = NULL").
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ClearToken(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetPassword_AlsoClearsToken(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	mock.ExpectExec("UPDATE users SET salt = (.+), password_hash = (.+), token = NULL, token_expiry = NULL").
		WithArgs("newsalt", "newhash", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetPassword(context.Background(), 1, "newsalt", "newhash"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAdmin_SeedsWhenMissing(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").
		WithArgs("admin").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("admin", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	created, err := repo.EnsureAdmin(context.Background(), "Admin@2026")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").
		WithArgs("admin").
		WillReturnRows(userRows(1, "admin", "salt", "hash", nil, nil))

	created, err := repo.EnsureAdmin(context.Background(), "Admin@2026")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureAdmin_PropagatesStorageError(t *testing.T) {
	repo, mock, db := newTestUserRepo(t)
	defer db.Close()

	storageErr := errors.New("disk on fire")
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").
		WithArgs("admin").
		WillReturnError(storageErr)

	_, err := repo.EnsureAdmin(context.Background(), "Admin@2026")
	assert.ErrorIs(t, err, storageErr)
}
