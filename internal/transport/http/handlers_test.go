// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/opentrusty/internal/audit"
	"github.com/opentrusty/opentrusty/internal/identity"
	"github.com/opentrusty/opentrusty/internal/oidc"
	"github.com/opentrusty/opentrusty/internal/session"
)

type fakeKeyRepository struct {
	encrypted []byte
	found     bool
}

func (f *fakeKeyRepository) Load(ctx context.Context) ([]byte, bool, error) {
	return f.encrypted, f.found, nil
}
func (f *fakeKeyRepository) Save(ctx context.Context, encrypted []byte) error {
	f.encrypted = encrypted
	f.found = true
	return nil
}

type fakeUserRepo struct {
	byName map[string]*identity.User
	byID   map[string]*identity.User
	creds  map[string]*identity.Credentials
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byName: map[string]*identity.User{}, byID: map[string]*identity.User{}, creds: map[string]*identity.Credentials{}}
}
func (f *fakeUserRepo) Create(u *identity.User) error {
	f.byName[u.Name] = u
	f.byID[u.ID] = u
	return nil
}
func (f *fakeUserRepo) AddCredentials(c *identity.Credentials) error { f.creds[c.UserID] = c; return nil }
func (f *fakeUserRepo) GetByID(id string) (*identity.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}
func (f *fakeUserRepo) GetByName(name string) (*identity.User, error) {
	u, ok := f.byName[name]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}
func (f *fakeUserRepo) GetByEmail(email string) (*identity.User, error) { return nil, identity.ErrUserNotFound }
func (f *fakeUserRepo) Update(u *identity.User) error                  { f.byID[u.ID] = u; return nil }
func (f *fakeUserRepo) UpdateLockout(userID string, failedAttempts int, lockedUntil *time.Time) error {
	return nil
}
func (f *fakeUserRepo) Delete(id string) error { delete(f.byID, id); return nil }
func (f *fakeUserRepo) GetCredentials(userID string) (*identity.Credentials, error) {
	c, ok := f.creds[userID]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return c, nil
}
func (f *fakeUserRepo) UpdatePassword(userID, hash string) error { f.creds[userID].PasswordHash = hash; return nil }
func (f *fakeUserRepo) MergeAcceptedClient(userID, clientID string, scope []string) error { return nil }
func (f *fakeUserRepo) UpdateAuthenticatedAt(userID string, at time.Time) error           { return nil }

type fakeSessionStore struct {
	data map[string]map[session.Role]string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{data: map[string]map[session.Role]string{}}
}
func (f *fakeSessionStore) Get(ctx context.Context, sessionID string, role session.Role) (string, error) {
	m, ok := f.data[sessionID]
	if !ok {
		return "", session.ErrSessionNotFound
	}
	v, ok := m[role]
	if !ok {
		return "", session.ErrSessionNotFound
	}
	return v, nil
}
func (f *fakeSessionStore) Set(ctx context.Context, sessionID string, role session.Role, subjectID string, ttl time.Duration) error {
	if f.data[sessionID] == nil {
		f.data[sessionID] = map[session.Role]string{}
	}
	f.data[sessionID][role] = subjectID
	return nil
}
func (f *fakeSessionStore) Delete(ctx context.Context, sessionID string) error {
	delete(f.data, sessionID)
	return nil
}

func testHandler(t *testing.T) (*Handler, *fakeUserRepo) {
	t.Helper()
	userRepo := newFakeUserRepo()
	hasher := identity.NewPasswordHasher(64*1024, 1, 1, 16, 32)
	identitySvc := identity.NewService(userRepo, hasher, audit.NewSlogLogger(), 5, time.Minute)

	keys, err := oidc.NewKeyService(context.Background(), &fakeKeyRepository{}, []byte("01234567890123456789012345678901"))
	require.NoError(t, err)

	h := NewHandler(nil, nil, nil, nil, keys, identitySvc, newFakeSessionStore(), audit.NewSlogLogger(), time.Hour)
	return h, userRepo
}

func TestHandler_HealthCheck(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandler_PublicKey(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/oidc/publickey", nil)
	w := httptest.NewRecorder()

	h.PublicKey(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "PUBLIC KEY")
}

func TestHandler_Register_SuccessThenDuplicate(t *testing.T) {
	h, _ := testHandler(t)

	body := `{"name":"alice","email":"alice@example.com","password":"correcthorsebatterystaple"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.Register(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString(body))
	w2 := httptest.NewRecorder()
	h.Register(w2, req2)
	assert.Equal(t, http.StatusConflict, w2.Code)
}

func TestHandler_Login_SuccessAndFailure(t *testing.T) {
	h, _ := testHandler(t)

	registerBody := `{"name":"bob","email":"bob@example.com","password":"correcthorsebatterystaple"}`
	w := httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/auth/register", bytes.NewBufferString(registerBody)))
	require.Equal(t, http.StatusCreated, w.Code)

	loginOK := `{"name":"bob","password":"correcthorsebatterystaple"}`
	wOK := httptest.NewRecorder()
	h.Login(wOK, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(loginOK)))
	require.Equal(t, http.StatusOK, wOK.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(wOK.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["session_id"])

	loginBad := `{"name":"bob","password":"wrong"}`
	wBad := httptest.NewRecorder()
	h.Login(wBad, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(loginBad)))
	assert.Equal(t, http.StatusUnauthorized, wBad.Code)
}

func TestHandler_Logout_RequiresBearerToken(t *testing.T) {
	h, _ := testHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_Logout_DeletesSession(t *testing.T) {
	h, _ := testHandler(t)
	sessionID := strings.Repeat("a", 32)
	require.NoError(t, h.sessions.Set(context.Background(), sessionID, session.RoleEndUser, "user-1", time.Hour))
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+sessionID)
	w := httptest.NewRecorder()

	h.Logout(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	_, err := h.sessions.Get(context.Background(), sessionID, session.RoleEndUser)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
