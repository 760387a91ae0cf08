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

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/opentrusty/internal/audit"
)

type fakeUserRepository struct {
	byID          map[string]*User
	byName        map[string]*User
	byEmail       map[string]*User
	credsByUserID map[string]*Credentials
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{
		byID: make(map[string]*User), byName: make(map[string]*User),
		byEmail: make(map[string]*User), credsByUserID: make(map[string]*Credentials),
	}
}

func (f *fakeUserRepository) Create(user *User) error {
	f.byID[user.ID] = user
	f.byName[user.Name] = user
	f.byEmail[user.Email] = user
	return nil
}
func (f *fakeUserRepository) AddCredentials(c *Credentials) error {
	f.credsByUserID[c.UserID] = c
	return nil
}
func (f *fakeUserRepository) GetByID(id string) (*User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}
func (f *fakeUserRepository) GetByName(name string) (*User, error) {
	u, ok := f.byName[name]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}
func (f *fakeUserRepository) GetByEmail(email string) (*User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}
func (f *fakeUserRepository) Update(user *User) error { f.byID[user.ID] = user; return nil }
func (f *fakeUserRepository) UpdateLockout(userID string, failedAttempts int, lockedUntil *time.Time) error {
	u := f.byID[userID]
	u.FailedLoginAttempts = failedAttempts
	u.LockedUntil = lockedUntil
	return nil
}
func (f *fakeUserRepository) Delete(id string) error { delete(f.byID, id); return nil }
func (f *fakeUserRepository) GetCredentials(userID string) (*Credentials, error) {
	c, ok := f.credsByUserID[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return c, nil
}
func (f *fakeUserRepository) UpdatePassword(userID string, passwordHash string) error {
	f.credsByUserID[userID].PasswordHash = passwordHash
	return nil
}
func (f *fakeUserRepository) MergeAcceptedClient(userID, clientID string, scope []string) error {
	u := f.byID[userID]
	u.MergeAcceptedClient(clientID, scope)
	return nil
}
func (f *fakeUserRepository) UpdateAuthenticatedAt(userID string, at time.Time) error {
	f.byID[userID].AuthenticatedAt = &at
	return nil
}

func testHasher() *PasswordHasher {
	return NewPasswordHasher(64*1024, 1, 1, 16, 32)
}

func testService(repo UserRepository) *Service {
	return NewService(repo, testHasher(), audit.NewSlogLogger(), 3, time.Minute)
}

func TestService_ProvisionIdentityAndAuthenticate(t *testing.T) {
	repo := newFakeUserRepository()
	svc := testService(repo)
	ctx := context.Background()

	user, err := svc.ProvisionIdentity(ctx, "alice", "alice@example.com", Profile{GivenName: "Alice"})
	require.NoError(t, err)
	require.NoError(t, svc.AddPassword(ctx, user.ID, "correcthorsebatterystaple"))

	authed, err := svc.Authenticate(ctx, "alice", "correcthorsebatterystaple")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)
	assert.NotNil(t, authed.AuthenticatedAt)
}

func TestService_ProvisionIdentity_DuplicateName(t *testing.T) {
	repo := newFakeUserRepository()
	svc := testService(repo)
	ctx := context.Background()

	_, err := svc.ProvisionIdentity(ctx, "alice", "alice@example.com", Profile{})
	require.NoError(t, err)

	_, err = svc.ProvisionIdentity(ctx, "alice", "alice2@example.com", Profile{})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestService_ProvisionIdentity_InvalidEmail(t *testing.T) {
	repo := newFakeUserRepository()
	svc := testService(repo)

	_, err := svc.ProvisionIdentity(context.Background(), "bob", "not-an-email", Profile{})
	assert.ErrorIs(t, err, ErrInvalidEmail)
}

// TestPurpose: Validates that repeated wrong-password attempts lock the
// account after the configured threshold, and that a locked account is
// rejected even with the correct password.
// Scope: Unit Test
// Security: Brute-force lockout (spec §3 EndUser lockout fields)
// Expected: Authenticate returns ErrAccountLocked once failed attempts
// reach lockoutMaxAttempts, regardless of password correctness.
func TestService_Authenticate_LocksOutAfterMaxAttempts(t *testing.T) {
	repo := newFakeUserRepository()
	svc := testService(repo)
	ctx := context.Background()

	user, err := svc.ProvisionIdentity(ctx, "carol", "carol@example.com", Profile{})
	require.NoError(t, err)
	require.NoError(t, svc.AddPassword(ctx, user.ID, "correcthorsebatterystaple"))

	for i := 0; i < 3; i++ {
		_, err := svc.Authenticate(ctx, "carol", "wrong-password")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err = svc.Authenticate(ctx, "carol", "correcthorsebatterystaple")
	assert.ErrorIs(t, err, ErrAccountLocked)
}

func TestService_AcceptClient_UnionsScope(t *testing.T) {
	repo := newFakeUserRepository()
	svc := testService(repo)
	ctx := context.Background()

	user, err := svc.ProvisionIdentity(ctx, "dave", "dave@example.com", Profile{})
	require.NoError(t, err)

	require.NoError(t, svc.AcceptClient(ctx, user.ID, "client-1", []string{"openid", "profile"}))
	require.NoError(t, svc.AcceptClient(ctx, user.ID, "client-1", []string{"profile", "email"}))

	stored, _ := repo.GetByID(user.ID)
	ac, ok := stored.AcceptedClientFor("client-1")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"openid", "profile", "email"}, ac.Scope)
}

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	h := testHasher()

	encoded, err := h.Hash("s3cr3t-password")
	require.NoError(t, err)

	ok, err := h.Verify("s3cr3t-password", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-password", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}
