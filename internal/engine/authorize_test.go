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

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/opentrusty/internal/audit"
	"github.com/opentrusty/opentrusty/internal/identity"
	"github.com/opentrusty/opentrusty/internal/oauth2"
	"github.com/opentrusty/opentrusty/internal/oidc"
	"github.com/opentrusty/opentrusty/internal/oidcerr"
	"github.com/opentrusty/opentrusty/internal/resource"
)

type fakeGrantRepo struct {
	byID map[string]*oauth2.Grant
}

func (f *fakeGrantRepo) Create(ctx context.Context, g *oauth2.Grant) error {
	f.byID[g.ID] = g
	return nil
}
func (f *fakeGrantRepo) GetByID(ctx context.Context, id string) (*oauth2.Grant, error) {
	g, ok := f.byID[id]
	if !ok {
		return nil, oauth2.ErrGrantNotFound
	}
	return g, nil
}
func (f *fakeGrantRepo) GetByCode(ctx context.Context, code string) (*oauth2.Grant, error) {
	for _, g := range f.byID {
		if g.Code == code {
			return g, nil
		}
	}
	return nil, oauth2.ErrGrantNotFound
}
func (f *fakeGrantRepo) FindByIDAndChangeStatus(ctx context.Context, id string, from, to oauth2.GrantStatus) (*oauth2.Grant, error) {
	g, ok := f.byID[id]
	if !ok || g.Status != from {
		return nil, oauth2.ErrGrantAlreadyUsed
	}
	g.Status = to
	return g, nil
}
func (f *fakeGrantRepo) FindByCodeAndChangeStatus(ctx context.Context, code string, from, to oauth2.GrantStatus) (*oauth2.Grant, error) {
	for _, g := range f.byID {
		if g.Code == code && g.Status == from {
			prior := *g
			g.Status = to
			return &prior, nil
		}
	}
	return nil, oauth2.ErrGrantNotFound
}
func (f *fakeGrantRepo) DeleteExpired(ctx context.Context, olderThan time.Time) error { return nil }

type fakeRefreshTokenRepo struct {
	created []*oauth2.RefreshToken
}

func (f *fakeRefreshTokenRepo) Create(ctx context.Context, t *oauth2.RefreshToken) error {
	f.created = append(f.created, t)
	return nil
}
func (f *fakeRefreshTokenRepo) GetByToken(ctx context.Context, token string) (*oauth2.RefreshToken, error) {
	for _, t := range f.created {
		if t.Token == token {
			return t, nil
		}
	}
	return nil, nil
}
func (f *fakeRefreshTokenRepo) Delete(ctx context.Context, token string) error { return nil }
func (f *fakeRefreshTokenRepo) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	return nil
}

type fakeIdTokenRepo struct {
	byID map[string]*oidc.IdToken
}

func (f *fakeIdTokenRepo) Create(ctx context.Context, t *oidc.IdToken) error {
	f.byID[t.ID] = t
	return nil
}
func (f *fakeIdTokenRepo) GetByID(ctx context.Context, id string) (*oidc.IdToken, error) {
	return f.byID[id], nil
}
func (f *fakeIdTokenRepo) Update(ctx context.Context, t *oidc.IdToken) error {
	f.byID[t.ID] = t
	return nil
}
func (f *fakeIdTokenRepo) Delete(ctx context.Context, id string) error { delete(f.byID, id); return nil }
func (f *fakeIdTokenRepo) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	return nil
}

type fakeKeyRepo struct {
	encrypted []byte
	found     bool
}

func (f *fakeKeyRepo) Load(ctx context.Context) ([]byte, bool, error) { return f.encrypted, f.found, nil }
func (f *fakeKeyRepo) Save(ctx context.Context, encrypted []byte) error {
	f.encrypted, f.found = encrypted, true
	return nil
}

type fakeEndUserRepo struct {
	byID map[string]*identity.User
}

func (f *fakeEndUserRepo) Create(user *identity.User) error { f.byID[user.ID] = user; return nil }
func (f *fakeEndUserRepo) AddCredentials(c *identity.Credentials) error { return nil }
func (f *fakeEndUserRepo) GetByID(id string) (*identity.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}
func (f *fakeEndUserRepo) GetByName(name string) (*identity.User, error) { return nil, identity.ErrUserNotFound }
func (f *fakeEndUserRepo) GetByEmail(email string) (*identity.User, error) { return nil, identity.ErrUserNotFound }
func (f *fakeEndUserRepo) Update(user *identity.User) error { f.byID[user.ID] = user; return nil }
func (f *fakeEndUserRepo) UpdateLockout(userID string, failedAttempts int, lockedUntil *time.Time) error {
	return nil
}
func (f *fakeEndUserRepo) Delete(id string) error { delete(f.byID, id); return nil }
func (f *fakeEndUserRepo) GetCredentials(userID string) (*identity.Credentials, error) { return nil, nil }
func (f *fakeEndUserRepo) UpdatePassword(userID, passwordHash string) error { return nil }
func (f *fakeEndUserRepo) MergeAcceptedClient(userID, clientID string, scope []string) error {
	u, ok := f.byID[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.MergeAcceptedClient(clientID, scope)
	return nil
}
func (f *fakeEndUserRepo) UpdateAuthenticatedAt(userID string, at time.Time) error {
	u, ok := f.byID[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	u.AuthenticatedAt = &at
	return nil
}

func newTestAuthorizeService(t *testing.T, client *oauth2.Client, res *resource.Resource, user *identity.User) (*AuthorizeService, *fakeGrantRepo, *fakeRefreshTokenRepo) {
	t.Helper()
	clients := &fakeClientRepo{byID: map[string]*oauth2.Client{client.ID: client}}
	resources := &fakeResourceRepo{byID: map[string]*resource.Resource{res.ID: res}}
	grants := &fakeGrantRepo{byID: map[string]*oauth2.Grant{}}
	accessTokens := &fakeAccessTokenRepo{}
	refreshTokens := &fakeRefreshTokenRepo{}
	idTokens := &fakeIdTokenRepo{byID: map[string]*oidc.IdToken{}}
	userRepo := &fakeEndUserRepo{byID: map[string]*identity.User{user.ID: user}}
	identitySvc := identity.NewService(userRepo, identity.NewPasswordHasher(64*1024, 1, 1, 16, 32), audit.NewSlogLogger(), 5, time.Minute)

	keys, err := oidc.NewKeyService(context.Background(), &fakeKeyRepo{}, []byte("01234567890123456789012345678901"))
	require.NoError(t, err)

	svc := NewAuthorizeService(
		clients, resources, grants, accessTokens, refreshTokens, idTokens,
		identitySvc, keys, audit.NewSlogLogger(),
		"https://issuer.example.test", time.Minute, time.Hour, time.Hour, 24*time.Hour,
	)
	return svc, grants, refreshTokens
}

func TestAuthorizeService_Authorize_RequiresAcceptanceOnFirstRequest(t *testing.T) {
	client := &oauth2.Client{ID: "client-1", Type: oauth2.ClientConfidential, ResourceID: "res-1", RedirectURIs: []string{"https://app.example.test/cb"}}
	res := &resource.Resource{ID: "res-1", Scopes: []resource.Scope{{Name: "openid"}, {Name: "profile"}}}
	user := &identity.User{ID: "user-1"}

	svc, _, _ := newTestAuthorizeService(t, client, res, user)

	result, err := svc.Authorize(context.Background(), AuthorizeCommand{
		EndUserID: "user-1", ClientID: "client-1", ResponseType: "code",
		RedirectURI: "https://app.example.test/cb", Scope: "openid profile", State: "xyz",
	})
	require.NoError(t, err)
	require.NotNil(t, result.RequireAcceptance)
	assert.Nil(t, result.Response)
	assert.NotEmpty(t, result.RequireAcceptance.GrantID)
}

func TestAuthorizeService_Authorize_SkipsConsentWhenAlreadyAccepted(t *testing.T) {
	client := &oauth2.Client{ID: "client-1", Type: oauth2.ClientConfidential, ResourceID: "res-1", RedirectURIs: []string{"https://app.example.test/cb"}}
	res := &resource.Resource{ID: "res-1", Scopes: []resource.Scope{{Name: "openid"}}}
	user := &identity.User{ID: "user-1", AcceptedClients: []identity.AcceptedClient{{ClientID: "client-1", Scope: []string{"openid"}}}}

	svc, _, _ := newTestAuthorizeService(t, client, res, user)

	result, err := svc.Authorize(context.Background(), AuthorizeCommand{
		EndUserID: "user-1", ClientID: "client-1", ResponseType: "code",
		RedirectURI: "https://app.example.test/cb", Scope: "openid", State: "xyz",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Response)
	assert.Nil(t, result.RequireAcceptance)
	assert.NotEmpty(t, result.Response.Code)
	assert.Equal(t, DeliveryQuery, result.Response.Delivery)
}

func TestAuthorizeService_Authorize_UnknownClient(t *testing.T) {
	client := &oauth2.Client{ID: "client-1", ResourceID: "res-1", RedirectURIs: []string{"https://app.example.test/cb"}}
	res := &resource.Resource{ID: "res-1"}
	user := &identity.User{ID: "user-1"}
	svc, _, _ := newTestAuthorizeService(t, client, res, user)

	_, err := svc.Authorize(context.Background(), AuthorizeCommand{
		EndUserID: "user-1", ClientID: "does-not-exist", ResponseType: "code",
		RedirectURI: "https://app.example.test/cb",
	})
	require.Error(t, err)
	oerr, ok := err.(*oidcerr.Error)
	require.True(t, ok)
	assert.Equal(t, oidcerr.EntityNotFound, oerr.Kind)
}

func TestAuthorizeService_Authorize_UnregisteredRedirectURI(t *testing.T) {
	client := &oauth2.Client{ID: "client-1", ResourceID: "res-1", RedirectURIs: []string{"https://app.example.test/cb"}}
	res := &resource.Resource{ID: "res-1"}
	user := &identity.User{ID: "user-1"}
	svc, _, _ := newTestAuthorizeService(t, client, res, user)

	_, err := svc.Authorize(context.Background(), AuthorizeCommand{
		EndUserID: "user-1", ClientID: "client-1", ResponseType: "code",
		RedirectURI: "https://evil.example.test/cb",
	})
	require.Error(t, err)
	oerr, ok := err.(*oidcerr.Error)
	require.True(t, ok)
	assert.Equal(t, oidcerr.InvalidRequest, oerr.Kind)
}

// TestPurpose: confirm a redeemed authorization_code cannot be redeemed a
// second time, exercising the Activated->Expired compare-and-swap directly.
// Scope: AuthorizeService.RedeemAuthorizationCode
// Expected: second redemption attempt returns InvalidRequest, not a second token set.
func TestAuthorizeService_RedeemAuthorizationCode_SingleUse(t *testing.T) {
	client := &oauth2.Client{
		ID: "client-1", Type: oauth2.ClientConfidential,
		ClientSecret: oauth2.HashClientSecret("s3cr3t"), ResourceID: "res-1",
		RedirectURIs: []string{"https://app.example.test/cb"},
	}
	res := &resource.Resource{ID: "res-1", Scopes: []resource.Scope{{Name: "openid"}}}
	user := &identity.User{ID: "user-1"}
	svc, grants, refreshTokens := newTestAuthorizeService(t, client, res, user)

	grant := &oauth2.Grant{
		ID: "grant-1", EndUserID: "user-1", ClientID: "client-1", ResourceID: "res-1",
		RedirectURI: "https://app.example.test/cb", Code: "the-code-0123456789",
		ResponseType: oauth2.ParseResponseType("code"), Scope: []string{"openid"},
		CreatedAt: time.Now(), ExpiresInSec: 60, Status: oauth2.GrantActivated,
	}
	grants.byID[grant.ID] = grant

	result, err := svc.RedeemAuthorizationCode(context.Background(), "client-1", "s3cr3t", "the-code-0123456789")
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.IDToken, "grant requested openid scope")
	assert.NotEmpty(t, result.RefreshToken)
	require.Len(t, refreshTokens.created, 1)

	_, err = svc.RedeemAuthorizationCode(context.Background(), "client-1", "s3cr3t", "the-code-0123456789")
	require.Error(t, err)
	oerr, ok := err.(*oidcerr.Error)
	require.True(t, ok)
	assert.Equal(t, oidcerr.InvalidRequest, oerr.Kind)
}

func TestAuthorizeService_AcceptClient_WrongEndUser(t *testing.T) {
	client := &oauth2.Client{ID: "client-1", ResourceID: "res-1", RedirectURIs: []string{"https://app.example.test/cb"}}
	res := &resource.Resource{ID: "res-1"}
	user := &identity.User{ID: "user-1"}
	svc, grants, _ := newTestAuthorizeService(t, client, res, user)

	grant := &oauth2.Grant{
		ID: "grant-1", EndUserID: "user-1", ClientID: "client-1",
		RedirectURI: "https://app.example.test/cb", ResponseType: oauth2.ParseResponseType("code"),
		CreatedAt: time.Now(), ExpiresInSec: 60, Status: oauth2.GrantCreated,
	}
	grants.byID[grant.ID] = grant

	_, err := svc.AcceptClient(context.Background(), AcceptClientCommand{
		EndUserID: "someone-else", Action: "accept", GrantID: "grant-1",
	})
	require.Error(t, err)
	oerr, ok := err.(*oidcerr.Error)
	require.True(t, ok)
	assert.Equal(t, oidcerr.AccessDenied, oerr.Kind)
}
