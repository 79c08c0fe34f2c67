package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/achievehub/apiserver/internal/auth"
	"github.com/achievehub/apiserver/internal/records"
	"github.com/achievehub/apiserver/internal/services"
	"github.com/achievehub/apiserver/internal/storage"
	"github.com/achievehub/apiserver/internal/store"
	"github.com/achievehub/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

// fakeUserRepo backs the session service with an in-memory user table.
type fakeUserRepo struct {
	users  map[int]*types.User
	nextID int
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[int]*types.User{}, nextID: 1}
}

func (f *fakeUserRepo) add(t *testing.T, username, password string) *types.User {
	t.Helper()
	salt, hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	user := &types.User{ID: f.nextID, Username: username, Salt: salt, PasswordHash: hash}
	f.users[user.ID] = user
	f.nextID++
	return user
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int) (types.User, error) {
	if user, ok := f.users[id]; ok {
		return *user, nil
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (types.User, error) {
	for _, user := range f.users {
		if user.Username == username {
			return *user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) GetByToken(ctx context.Context, token string) (types.User, error) {
	for _, user := range f.users {
		if user.Token != "" && user.Token == token {
			return *user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeUserRepo) SetToken(ctx context.Context, userID int, token string, expiry int64) error {
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Token = token
	user.TokenExpiry = expiry
	return nil
}

func (f *fakeUserRepo) ClearToken(ctx context.Context, userID int) error {
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Token = ""
	user.TokenExpiry = 0
	return nil
}

func (f *fakeUserRepo) SetPassword(ctx context.Context, userID int, salt, hash string) error {
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Salt = salt
	user.PasswordHash = hash
	user.Token = ""
	user.TokenExpiry = 0
	return nil
}

// fakeRecordRepo keeps record rows per collection and user.
type fakeRecordRepo struct {
	rows map[string]map[int][]store.StoredRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{rows: map[string]map[int][]store.StoredRecord{}}
}

func (f *fakeRecordRepo) ListByUser(ctx context.Context, c records.Collection, userID int) ([]store.StoredRecord, error) {
	return f.rows[c.Name][userID], nil
}

func (f *fakeRecordRepo) ReplaceAll(ctx context.Context, c records.Collection, userID int, rows []store.StoredRecord) error {
	byUser, ok := f.rows[c.Name]
	if !ok {
		byUser = map[int][]store.StoredRecord{}
		f.rows[c.Name] = byUser
	}
	byUser[userID] = rows
	return nil
}

// testEnv wires the full route tree over in-memory repositories and a
// temp-dir local storage backend, mirroring the production router layout.
type testEnv struct {
	router http.Handler
	users  *fakeUserRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := newFakeUserRepo()
	users.add(t, "admin", "Admin@2026")

	sessions := services.NewSessionService(users, "test-secret")
	recordService := services.NewRecordService(newFakeRecordRepo(), nil, nil)

	local, err := storage.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	objectStorage := storage.NewStorage(local)
	require.NoError(t, objectStorage.EnsureBucket(context.Background()))

	authHandler := NewAuthHandler(sessions)
	uploadHandler := NewUploadHandler(objectStorage)
	requireAuth := RequireAuth(sessions)

	r := chi.NewRouter()
	r.Get("/healthz", Healthz)
	r.Get("/uploads/*", uploadHandler.Serve)
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			AuthRouter(r, sessions)
		})
		r.With(requireAuth).Post("/change_password", authHandler.ChangePassword)
		r.With(requireAuth).Post("/upload", uploadHandler.Upload)
		RecordRouter(r, recordService, requireAuth)
	})

	return &testEnv{router: r, users: users}
}

// do executes one request against the in-process router. A non-empty token
// is sent as a bearer credential.
func (e *testEnv) do(t *testing.T, method, target, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// doWithAuthorization sends a request with a raw Authorization header value.
func (e *testEnv) doWithAuthorization(t *testing.T, method, target, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", authorization)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, username, password string) LoginResponse {
	t.Helper()

	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/auth/login", "", body)
	require.Equal(t, http.StatusOK, rec.Code, "login failed: %s", rec.Body.String())

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &value))
	return value
}
