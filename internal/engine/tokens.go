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
	"strings"
	"time"

	"github.com/opentrusty/opentrusty/internal/audit"
	"github.com/opentrusty/opentrusty/internal/id"
	"github.com/opentrusty/opentrusty/internal/identity"
	"github.com/opentrusty/opentrusty/internal/oauth2"
	"github.com/opentrusty/opentrusty/internal/oidc"
	"github.com/opentrusty/opentrusty/internal/oidcerr"
	"github.com/opentrusty/opentrusty/internal/resource"
)

// TokenResult is the JSON body of a successful /oidc/tokens response (spec
// §6 "Token response").
type TokenResult struct {
	AccessToken  string
	RefreshToken string // empty for client_credentials and password grants
	TokenType    string
	ExpiresIn    int
	IDToken      string // empty unless the grant minted one
}

// RefreshService implements spec §4.2.
type RefreshService struct {
	clients       oauth2.ClientRepository
	refreshTokens oauth2.RefreshTokenRepository
	accessTokens  oauth2.AccessTokenRepository
	idTokens      oidc.IdTokenRepository
	keys          *oidc.KeyService
	auditLogger   audit.Logger

	issuer     string
	idTokenTTL time.Duration
}

// NewRefreshService constructs a RefreshService.
func NewRefreshService(
	clients oauth2.ClientRepository,
	refreshTokens oauth2.RefreshTokenRepository,
	accessTokens oauth2.AccessTokenRepository,
	idTokens oidc.IdTokenRepository,
	keys *oidc.KeyService,
	auditLogger audit.Logger,
	issuer string,
	idTokenTTL time.Duration,
) *RefreshService {
	return &RefreshService{
		clients: clients, refreshTokens: refreshTokens, accessTokens: accessTokens,
		idTokens: idTokens, keys: keys, auditLogger: auditLogger,
		issuer: issuer, idTokenTTL: idTokenTTL,
	}
}

// Refresh implements spec §4.2, steps 1-5. The refresh token string itself
// is never rotated (preserved open question, spec §9); only the access
// token (and, conditionally, the ID token) are reissued.
func (s *RefreshService) Refresh(ctx context.Context, clientID, clientSecret, refreshToken, scope string) (*TokenResult, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil || client == nil || !client.AuthenticateBySecret(clientSecret) {
		return nil, oidcerr.New(oidcerr.UnauthorizedClient, "client authentication failed")
	}

	rt, err := s.refreshTokens.GetByToken(ctx, refreshToken)
	if err != nil || rt == nil || !rt.IsValid() {
		return nil, oidcerr.New(oidcerr.InvalidRequest, "refresh token not found or expired")
	}

	rotated, err := s.accessTokens.Rotate(ctx, rt.AccessTokenID, id.NewCode64(), time.Now())
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to rotate access token", err)
	}

	result := &TokenResult{
		AccessToken:  rotated.Token,
		RefreshToken: rt.Token,
		TokenType:    "Bearer",
		ExpiresIn:    rotated.ExpiresInSec,
	}

	if containsScope(scope, "openid") && rt.IDTokenID != "" {
		prior, err := s.idTokens.GetByID(ctx, rt.IDTokenID)
		if err == nil && prior != nil {
			claims, err := oidc.ParseIDToken(s.keys, prior.Token)
			var authTime *time.Time
			var azp string
			if err == nil {
				if claims.AuthTime != 0 {
					t := time.Unix(claims.AuthTime, 0)
					authTime = &t
				}
				azp = claims.AZP
			}
			signed, expiresAt, err := oidc.GenerateIDToken(s.keys, oidc.MintParams{
				Issuer: s.issuer, Subject: prior.EndUserID, Audience: rotated.ClientID,
				ExpiresIn: s.idTokenTTL, AuthTime: authTime, AZP: azp,
			})
			if err != nil {
				return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to reissue id token", err)
			}
			prior.Token = signed
			prior.ExpiresAt = expiresAt
			if err := s.idTokens.Update(ctx, prior); err == nil {
				result.IDToken = signed
			}
		}
	}

	s.auditLogger.Log(ctx, audit.Event{Type: audit.TypeTokenRefreshed, Resource: rotated.ClientID})

	return result, nil
}

func containsScope(scope, want string) bool {
	for _, s := range strings.Fields(scope) {
		if s == want {
			return true
		}
	}
	return false
}

// ClientCredentialsService implements spec §4.3.
type ClientCredentialsService struct {
	clients      oauth2.ClientRepository
	resources    resource.Repository
	accessTokens oauth2.AccessTokenRepository
	auditLogger  audit.Logger
}

// NewClientCredentialsService constructs a ClientCredentialsService.
func NewClientCredentialsService(clients oauth2.ClientRepository, resources resource.Repository, accessTokens oauth2.AccessTokenRepository, auditLogger audit.Logger) *ClientCredentialsService {
	return &ClientCredentialsService{clients: clients, resources: resources, accessTokens: accessTokens, auditLogger: auditLogger}
}

// Grant implements spec §4.3: no end_user_id, no refresh token.
func (s *ClientCredentialsService) Grant(ctx context.Context, clientID, clientSecret, scope string, accessTokenTTL time.Duration) (*TokenResult, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil || client == nil || !client.AuthenticateBySecret(clientSecret) {
		return nil, oidcerr.New(oidcerr.UnauthorizedClient, "client authentication failed")
	}
	res, err := s.resources.GetByID(ctx, client.ResourceID)
	if err != nil || res == nil {
		return nil, oidcerr.New(oidcerr.EntityNotFound, "client resource not found")
	}
	filtered := res.FilterScope(scope)

	at := &oauth2.AccessToken{
		ID: id.NewUUIDv7(), ClientID: client.ID, ResourceID: res.ID,
		Token: id.NewCode64(), CreatedAt: time.Now(),
		ExpiresInSec: int(accessTokenTTL / time.Second), Scope: filtered,
	}
	if err := s.accessTokens.Create(ctx, at); err != nil {
		return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to persist access token", err)
	}
	s.auditLogger.Log(ctx, audit.Event{Type: audit.TypeTokenIssued, Resource: client.ID})

	return &TokenResult{AccessToken: at.Token, TokenType: "Bearer", ExpiresIn: at.ExpiresInSec}, nil
}

// ROPCService implements spec §4.4. This grant deliberately never mints an
// id_token — a policy choice preserved from the source system (spec §9).
type ROPCService struct {
	clients      oauth2.ClientRepository
	resources    resource.Repository
	accessTokens oauth2.AccessTokenRepository
	identity     *identity.Service
	auditLogger  audit.Logger
}

// NewROPCService constructs a ROPCService.
func NewROPCService(clients oauth2.ClientRepository, resources resource.Repository, accessTokens oauth2.AccessTokenRepository, identitySvc *identity.Service, auditLogger audit.Logger) *ROPCService {
	return &ROPCService{clients: clients, resources: resources, accessTokens: accessTokens, identity: identitySvc, auditLogger: auditLogger}
}

// Grant implements spec §4.4.
func (s *ROPCService) Grant(ctx context.Context, clientID, clientSecret, username, password, scope string, accessTokenTTL time.Duration) (*TokenResult, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil || client == nil || !client.AuthenticateBySecret(clientSecret) {
		return nil, oidcerr.New(oidcerr.UnauthorizedClient, "client authentication failed")
	}

	user, err := s.identity.AuthenticateROPC(ctx, username, password)
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.LoginFailed, "invalid resource owner credentials", err)
	}

	res, err := s.resources.GetByID(ctx, client.ResourceID)
	if err != nil || res == nil {
		return nil, oidcerr.New(oidcerr.EntityNotFound, "client resource not found")
	}
	filtered := res.FilterScope(scope)

	at := &oauth2.AccessToken{
		ID: id.NewUUIDv7(), ClientID: client.ID, ResourceID: res.ID, EndUserID: user.ID,
		Token: id.NewCode64(), CreatedAt: time.Now(),
		ExpiresInSec: int(accessTokenTTL / time.Second), Scope: filtered,
	}
	if err := s.accessTokens.Create(ctx, at); err != nil {
		return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to persist access token", err)
	}
	s.auditLogger.Log(ctx, audit.Event{Type: audit.TypeTokenIssued, ActorID: user.ID, Resource: client.ID})

	return &TokenResult{AccessToken: at.Token, TokenType: "Bearer", ExpiresIn: at.ExpiresInSec}, nil
}

// Dispatcher routes a /oidc/tokens request to the service its grant_type
// names. It holds no logic of its own beyond that routing.
type Dispatcher struct {
	Authorize         *AuthorizeService
	Refresh           *RefreshService
	ClientCredentials *ClientCredentialsService
	ROPC              *ROPCService
	AccessTokenTTL    time.Duration
}

// TokensCommand is the parsed form body of POST /oidc/tokens.
type TokensCommand struct {
	GrantType    string
	Code         string
	RefreshToken string
	Username     string
	Password     string
	Scope        string
	ClientID     string
	ClientSecret string
}

// Dispatch implements spec §6's grant_type routing for /oidc/tokens.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd TokensCommand) (*TokenResult, error) {
	switch cmd.GrantType {
	case "authorization_code":
		return d.Authorize.RedeemAuthorizationCode(ctx, cmd.ClientID, cmd.ClientSecret, cmd.Code)
	case "refresh_token":
		return d.Refresh.Refresh(ctx, cmd.ClientID, cmd.ClientSecret, cmd.RefreshToken, cmd.Scope)
	case "client_credentials":
		return d.ClientCredentials.Grant(ctx, cmd.ClientID, cmd.ClientSecret, cmd.Scope, d.AccessTokenTTL)
	case "password":
		return d.ROPC.Grant(ctx, cmd.ClientID, cmd.ClientSecret, cmd.Username, cmd.Password, cmd.Scope, d.AccessTokenTTL)
	default:
		return nil, oidcerr.New(oidcerr.UnsupportedGrantType, "unsupported grant_type: "+cmd.GrantType)
	}
}
