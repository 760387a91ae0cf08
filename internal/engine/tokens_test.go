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
	"github.com/opentrusty/opentrusty/internal/oauth2"
	"github.com/opentrusty/opentrusty/internal/oidcerr"
	"github.com/opentrusty/opentrusty/internal/resource"
)

type fakeClientRepo struct {
	byID map[string]*oauth2.Client
}

func (f *fakeClientRepo) Create(ctx context.Context, c *oauth2.Client) error { return nil }
func (f *fakeClientRepo) GetByID(ctx context.Context, id string) (*oauth2.Client, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, oauth2.ErrClientNotFound
	}
	return c, nil
}
func (f *fakeClientRepo) GetByName(ctx context.Context, name string) (*oauth2.Client, error) {
	return nil, oauth2.ErrClientNotFound
}
func (f *fakeClientRepo) Update(ctx context.Context, c *oauth2.Client) error { return nil }
func (f *fakeClientRepo) Delete(ctx context.Context, id string) error       { return nil }
func (f *fakeClientRepo) ListByResource(ctx context.Context, resourceID string) ([]*oauth2.Client, error) {
	return nil, nil
}

type fakeResourceRepo struct {
	byID map[string]*resource.Resource
}

func (f *fakeResourceRepo) Create(ctx context.Context, r *resource.Resource) error { return nil }
func (f *fakeResourceRepo) GetByID(ctx context.Context, id string) (*resource.Resource, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return r, nil
}
func (f *fakeResourceRepo) GetByName(ctx context.Context, name string) (*resource.Resource, error) {
	return nil, nil
}
func (f *fakeResourceRepo) Update(ctx context.Context, r *resource.Resource) error { return nil }
func (f *fakeResourceRepo) Delete(ctx context.Context, id string) error           { return nil }
func (f *fakeResourceRepo) List(ctx context.Context, limit, offset int) ([]*resource.Resource, error) {
	return nil, nil
}

type fakeAccessTokenRepo struct {
	created []*oauth2.AccessToken
}

func (f *fakeAccessTokenRepo) Create(ctx context.Context, t *oauth2.AccessToken) error {
	f.created = append(f.created, t)
	return nil
}
func (f *fakeAccessTokenRepo) GetByToken(ctx context.Context, token string) (*oauth2.AccessToken, error) {
	for _, t := range f.created {
		if t.Token == token {
			return t, nil
		}
	}
	return nil, oauth2.ErrTokenNotFound
}
func (f *fakeAccessTokenRepo) Rotate(ctx context.Context, id, newToken string, createdAt time.Time) (*oauth2.AccessToken, error) {
	return nil, nil
}
func (f *fakeAccessTokenRepo) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeAccessTokenRepo) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	return nil
}

func TestClientCredentialsService_Grant(t *testing.T) {
	client := &oauth2.Client{
		ID: "client-1", Type: oauth2.ClientConfidential,
		ClientSecret: oauth2.HashClientSecret("s3cr3t"), ResourceID: "res-1",
	}
	res := &resource.Resource{ID: "res-1", Scopes: []resource.Scope{{Name: "read"}, {Name: "write"}}}

	clients := &fakeClientRepo{byID: map[string]*oauth2.Client{"client-1": client}}
	resources := &fakeResourceRepo{byID: map[string]*resource.Resource{"res-1": res}}
	accessTokens := &fakeAccessTokenRepo{}

	svc := NewClientCredentialsService(clients, resources, accessTokens, audit.NewSlogLogger())

	result, err := svc.Grant(context.Background(), "client-1", "s3cr3t", "read unknown-scope", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.Equal(t, "Bearer", result.TokenType)
	assert.Empty(t, result.RefreshToken, "client_credentials never issues a refresh token")
	require.Len(t, accessTokens.created, 1)
	assert.Equal(t, []string{"read"}, accessTokens.created[0].Scope)
}

func TestClientCredentialsService_Grant_WrongSecret(t *testing.T) {
	client := &oauth2.Client{ID: "client-1", Type: oauth2.ClientConfidential, ClientSecret: oauth2.HashClientSecret("s3cr3t")}
	clients := &fakeClientRepo{byID: map[string]*oauth2.Client{"client-1": client}}
	resources := &fakeResourceRepo{byID: map[string]*resource.Resource{}}
	accessTokens := &fakeAccessTokenRepo{}

	svc := NewClientCredentialsService(clients, resources, accessTokens, audit.NewSlogLogger())

	_, err := svc.Grant(context.Background(), "client-1", "wrong", "read", time.Hour)
	require.Error(t, err)
	oerr, ok := err.(*oidcerr.Error)
	require.True(t, ok)
	assert.Equal(t, oidcerr.UnauthorizedClient, oerr.Kind)
}

func TestDispatcher_UnsupportedGrantType(t *testing.T) {
	d := &Dispatcher{}
	_, err := d.Dispatch(context.Background(), TokensCommand{GrantType: "not_a_real_grant"})
	require.Error(t, err)
	oerr, ok := err.(*oidcerr.Error)
	require.True(t, ok)
	assert.Equal(t, oidcerr.UnsupportedGrantType, oerr.Kind)
}
