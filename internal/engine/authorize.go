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

// Package engine composes the oauth2, resource, identity and oidc packages
// into the eight operations the authorization server exposes: authorize,
// accept_client, accept_grant (authorization_code redemption), refresh,
// client_credentials, resource-owner password credentials, introspect and
// userinfo.
package engine

import (
	"context"
	"time"

	"github.com/opentrusty/opentrusty/internal/audit"
	"github.com/opentrusty/opentrusty/internal/id"
	"github.com/opentrusty/opentrusty/internal/identity"
	"github.com/opentrusty/opentrusty/internal/oauth2"
	"github.com/opentrusty/opentrusty/internal/oidc"
	"github.com/opentrusty/opentrusty/internal/oidcerr"
	"github.com/opentrusty/opentrusty/internal/resource"
)

// Delivery selects where an authorize response's parameters are carried.
type Delivery int

const (
	DeliveryQuery Delivery = iota
	DeliveryFragment
)

// AuthorizeCommand is the input to Authorize (spec §4.1 authorize).
type AuthorizeCommand struct {
	EndUserID    string // empty means "not logged in"
	ClientID     string
	ResponseType string
	RedirectURI  string
	Scope        string
	State        string
	Nonce        string
}

// RequireAcceptance is returned from Authorize when the end user has not
// already consented to the requested scope for this client.
type RequireAcceptance struct {
	GrantID string
	Scope   []resource.Scope
}

// AuthorizeResponse is the successful terminal outcome of authorize or
// accept_client: the bitmask-composed redirect payload (spec §6).
type AuthorizeResponse struct {
	RedirectURI string
	Delivery    Delivery
	Code        string
	AccessToken string
	TokenType   string
	ExpiresIn   int
	IDToken     string
	State       string
}

// AuthorizeResult is the sum-typed outcome of Authorize: exactly one of
// RequireAcceptance or Response is non-nil on success.
type AuthorizeResult struct {
	RequireAcceptance *RequireAcceptance
	Response          *AuthorizeResponse
}

// AuthorizeService implements spec §4.1: authorize, accept_client and the
// generate_code_or_tokens/accept_grant steps they share.
type AuthorizeService struct {
	clients      oauth2.ClientRepository
	resources    resource.Repository
	grants       oauth2.GrantRepository
	accessTokens oauth2.AccessTokenRepository
	refreshTokens oauth2.RefreshTokenRepository
	idTokens     oidc.IdTokenRepository
	identity     *identity.Service
	keys         *oidc.KeyService
	auditLogger  audit.Logger

	issuer         string
	grantTTL       time.Duration
	accessTokenTTL time.Duration
	idTokenTTL     time.Duration
	refreshTokenTTL time.Duration
}

// NewAuthorizeService constructs an AuthorizeService.
func NewAuthorizeService(
	clients oauth2.ClientRepository,
	resources resource.Repository,
	grants oauth2.GrantRepository,
	accessTokens oauth2.AccessTokenRepository,
	refreshTokens oauth2.RefreshTokenRepository,
	idTokens oidc.IdTokenRepository,
	identitySvc *identity.Service,
	keys *oidc.KeyService,
	auditLogger audit.Logger,
	issuer string,
	grantTTL, accessTokenTTL, idTokenTTL, refreshTokenTTL time.Duration,
) *AuthorizeService {
	return &AuthorizeService{
		clients: clients, resources: resources, grants: grants,
		accessTokens: accessTokens, refreshTokens: refreshTokens, idTokens: idTokens,
		identity: identitySvc, keys: keys, auditLogger: auditLogger,
		issuer: issuer, grantTTL: grantTTL, accessTokenTTL: accessTokenTTL,
		idTokenTTL: idTokenTTL, refreshTokenTTL: refreshTokenTTL,
	}
}

// Authorize implements spec §4.1 authorize, steps 1-10.
func (s *AuthorizeService) Authorize(ctx context.Context, cmd AuthorizeCommand) (*AuthorizeResult, error) {
	if cmd.EndUserID == "" {
		return nil, oidcerr.New(oidcerr.RequireLogin, "authentication required")
	}

	client, err := s.clients.GetByID(ctx, cmd.ClientID)
	if err != nil || client == nil || client.IsDeleted() {
		return nil, oidcerr.New(oidcerr.EntityNotFound, "unknown client_id")
	}

	if !client.ValidateRedirectURI(cmd.RedirectURI) {
		// Pre-validation failure: direct error, never a redirect to an
		// unvalidated URI (spec §8 invariant). No WithRedirectURI call below
		// this point may use cmd.RedirectURI unless this check has passed.
		return nil, oidcerr.New(oidcerr.InvalidRequest, "redirect_uri not registered for client")
	}

	rt := oauth2.ParseResponseType(cmd.ResponseType)
	useFragment := rt.Token || rt.IDToken
	if rt.FlowType() == oauth2.FlowUndefined {
		return nil, oidcerr.New(oidcerr.InvalidRequest, "response_type does not select a defined flow").
			WithState(cmd.State).WithRedirectURI(cmd.RedirectURI)
	}

	res, err := s.resources.GetByID(ctx, client.ResourceID)
	if err != nil || res == nil || res.IsDeleted() {
		return nil, oidcerr.New(oidcerr.EntityNotFound, "client resource not found").WithState(cmd.State)
	}

	scope := res.FilterScope(cmd.Scope)

	grant := &oauth2.Grant{
		ID:           id.NewUUIDv7(),
		EndUserID:    cmd.EndUserID,
		ClientID:     client.ID,
		ResourceID:   res.ID,
		RedirectURI:  cmd.RedirectURI,
		Code:         id.NewCode64(),
		ResponseType: rt,
		Scope:        scope,
		State:        cmd.State,
		Nonce:        cmd.Nonce,
		CreatedAt:    time.Now(),
		ExpiresInSec: int(s.grantTTL / time.Second),
		Status:       oauth2.GrantCreated,
	}
	if err := s.grants.Create(ctx, grant); err != nil {
		return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to persist grant", err).
			WithState(cmd.State).WithRedirectURI(cmd.RedirectURI).WithFragment(useFragment)
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type: audit.TypeGrantCreated, ActorID: cmd.EndUserID, Resource: grant.ID,
		Metadata: map[string]any{"client_id": client.ID, "scope": scope},
	})

	user, err := s.identity.GetUser(ctx, cmd.EndUserID)
	if err != nil {
		return nil, oidcerr.New(oidcerr.EntityNotFound, "end user not found").WithState(cmd.State)
	}

	if ac, ok := user.AcceptedClientFor(client.ID); ok && ac.Covers(scope) {
		resp, err := s.generateCodeOrTokens(ctx, user, grant.ID, cmd.State, cmd.RedirectURI, useFragment)
		if err != nil {
			return nil, err
		}
		return &AuthorizeResult{Response: resp}, nil
	}

	return &AuthorizeResult{RequireAcceptance: &RequireAcceptance{
		GrantID: grant.ID,
		Scope:   scopesFor(res, scope),
	}}, nil
}

// AcceptClientCommand is the input to AcceptClient (spec §4.1 accept_client).
type AcceptClientCommand struct {
	EndUserID string
	Action    string // "accept" or "reject"
	GrantID   string
}

// AcceptClient implements spec §4.1 accept_client, steps 1-6.
func (s *AuthorizeService) AcceptClient(ctx context.Context, cmd AcceptClientCommand) (*AuthorizeResponse, error) {
	grant, err := s.grants.GetByID(ctx, cmd.GrantID)
	if err != nil || grant == nil {
		return nil, oidcerr.New(oidcerr.InvalidRequest, "unknown grant_id")
	}

	client, err := s.clients.GetByID(ctx, grant.ClientID)
	if err != nil || client == nil || !client.ValidateRedirectURI(grant.RedirectURI) {
		return nil, oidcerr.New(oidcerr.InvalidRequest, "grant redirect_uri no longer valid").WithState(grant.State)
	}

	// Past this point the grant's redirect_uri has been re-validated against
	// the client's registered set, so errors carry it and are delivered
	// redirect-style wherever their Kind allows (spec §4.1 accept_client
	// step 2, spec §7).
	useFragment := grant.ResponseType.Token || grant.ResponseType.IDToken

	if cmd.EndUserID == "" {
		return nil, oidcerr.New(oidcerr.RequireLogin, "authentication required").
			WithState(grant.State).WithRedirectURI(grant.RedirectURI)
	}
	if cmd.Action != "accept" {
		return nil, oidcerr.New(oidcerr.AccessDenied, "end user rejected the request").
			WithState(grant.State).WithRedirectURI(grant.RedirectURI).WithFragment(useFragment)
	}
	if cmd.EndUserID != grant.EndUserID {
		return nil, oidcerr.New(oidcerr.AccessDenied, "grant belongs to a different end user").
			WithState(grant.State).WithRedirectURI(grant.RedirectURI).WithFragment(useFragment)
	}

	if err := s.identity.AcceptClient(ctx, cmd.EndUserID, grant.ClientID, grant.Scope); err != nil {
		return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to record consent", err).
			WithState(grant.State).WithRedirectURI(grant.RedirectURI).WithFragment(useFragment)
	}

	user, err := s.identity.GetUser(ctx, cmd.EndUserID)
	if err != nil {
		return nil, oidcerr.New(oidcerr.EntityNotFound, "end user not found").
			WithState(grant.State).WithRedirectURI(grant.RedirectURI)
	}

	return s.generateCodeOrTokens(ctx, user, grant.ID, grant.State, grant.RedirectURI, useFragment)
}

// generateCodeOrTokens implements spec §4.1 generate_code_or_tokens.
// redirectURI and useFragment carry the caller's already-validated
// redirect_uri and its delivery shape, so every error returned here can be
// reported redirect-style consistently with the flow that produced it.
func (s *AuthorizeService) generateCodeOrTokens(ctx context.Context, user *identity.User, grantID, state, redirectURI string, useFragment bool) (*AuthorizeResponse, error) {
	grant, err := s.grants.FindByIDAndChangeStatus(ctx, grantID, oauth2.GrantCreated, oauth2.GrantActivated)
	if err != nil {
		return nil, oidcerr.New(oidcerr.InvalidRequest, "grant already used").
			WithState(state).WithRedirectURI(redirectURI).WithFragment(useFragment)
	}
	if grant.EndUserID != user.ID {
		return nil, oidcerr.New(oidcerr.AccessDenied, "grant belongs to a different end user").
			WithState(state).WithRedirectURI(redirectURI).WithFragment(useFragment)
	}
	if !grant.IsValid() {
		return nil, oidcerr.New(oidcerr.InvalidGrant, "grant expired").
			WithState(state).WithRedirectURI(redirectURI).WithFragment(useFragment)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type: audit.TypeGrantActivated, ActorID: user.ID, Resource: grant.ID,
	})

	client, err := s.clients.GetByID(ctx, grant.ClientID)
	if err != nil || client == nil {
		return nil, oidcerr.New(oidcerr.EntityNotFound, "client not found").WithState(state)
	}

	resp := &AuthorizeResponse{
		RedirectURI: grant.RedirectURI,
		State:       state,
		TokenType:   "Bearer",
	}
	if grant.ResponseType.Code {
		resp.Code = grant.Code
	}
	if grant.ResponseType.Token {
		at := &oauth2.AccessToken{
			ID: id.NewUUIDv7(), ClientID: grant.ClientID, ResourceID: grant.ResourceID,
			EndUserID: grant.EndUserID, Token: id.NewCode64(), CreatedAt: time.Now(),
			ExpiresInSec: int(s.accessTokenTTL / time.Second), Scope: grant.Scope,
			State: grant.State, Nonce: grant.Nonce,
		}
		if err := s.accessTokens.Create(ctx, at); err != nil {
			return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to persist access token", err).
				WithState(state).WithRedirectURI(redirectURI).WithFragment(useFragment)
		}
		resp.AccessToken = at.Token
		resp.ExpiresIn = at.ExpiresInSec
	}
	if grant.ResponseType.IDToken {
		idTok, _, err := s.mintIDTokenRow(ctx, grant.EndUserID, client.ID, grant.Nonce, user.AuthenticatedAt)
		if err != nil {
			return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to mint id token", err).
				WithState(state).WithRedirectURI(redirectURI).WithFragment(useFragment)
		}
		resp.IDToken = idTok
	}

	resp.Delivery = DeliveryQuery
	if grant.ResponseType.Token || grant.ResponseType.IDToken {
		resp.Delivery = DeliveryFragment
	}

	return resp, nil
}

// RedeemAuthorizationCode implements spec §4.1 accept_grant: the token
// endpoint's authorization_code grant_type.
func (s *AuthorizeService) RedeemAuthorizationCode(ctx context.Context, clientID, clientSecret, code string) (*TokenResult, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil || client == nil || !client.AuthenticateBySecret(clientSecret) {
		return nil, oidcerr.New(oidcerr.UnauthorizedClient, "client authentication failed")
	}

	grant, err := s.grants.FindByCodeAndChangeStatus(ctx, code, oauth2.GrantActivated, oauth2.GrantExpired)
	if err != nil {
		return nil, oidcerr.New(oidcerr.InvalidRequest, "code not found or already redeemed")
	}
	if grant.ClientID != client.ID {
		return nil, oidcerr.New(oidcerr.InvalidGrant, "code was not issued to this client")
	}
	if !grant.IsValid() {
		return nil, oidcerr.New(oidcerr.InvalidGrant, "grant expired")
	}

	at := &oauth2.AccessToken{
		ID: id.NewUUIDv7(), ClientID: grant.ClientID, ResourceID: grant.ResourceID,
		EndUserID: grant.EndUserID, Token: id.NewCode64(), CreatedAt: time.Now(),
		ExpiresInSec: int(s.accessTokenTTL / time.Second), Scope: grant.Scope,
		State: grant.State, Nonce: grant.Nonce,
	}
	if err := s.accessTokens.Create(ctx, at); err != nil {
		return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to persist access token", err)
	}

	result := &TokenResult{
		AccessToken: at.Token,
		TokenType:   "Bearer",
		ExpiresIn:   at.ExpiresInSec,
	}

	var idTokenID string
	if grant.ResponseType.IDToken || grant.HasScope("openid") {
		user, err := s.identity.GetUser(ctx, grant.EndUserID)
		if err != nil {
			return nil, oidcerr.Wrap(oidcerr.ServerError, "end user disappeared mid-redemption", err)
		}
		idTok, idTokID, err := s.mintIDTokenRow(ctx, grant.EndUserID, client.ID, grant.Nonce, user.AuthenticatedAt)
		if err != nil {
			return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to mint id token", err)
		}
		result.IDToken = idTok
		idTokenID = idTokID
	}

	rt := &oauth2.RefreshToken{
		Token: id.NewCode64(), AccessTokenID: at.ID, IDTokenID: idTokenID,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(s.refreshTokenTTL),
	}
	if err := s.refreshTokens.Create(ctx, rt); err != nil {
		return nil, oidcerr.Wrap(oidcerr.ServerError, "failed to persist refresh token", err)
	}
	result.RefreshToken = rt.Token

	s.auditLogger.Log(ctx, audit.Event{
		Type: audit.TypeCodeRedeemed, ActorID: grant.EndUserID, Resource: grant.ClientID,
		Metadata: map[string]any{"resource_type": audit.ResourceToken, "access_token_id": at.ID},
	})

	return result, nil
}

// mintIDTokenRow signs a fresh ID token, persists its IdToken row, and
// returns both the signed JWT and the row's ID (the latter feeds
// RefreshToken.IDTokenID for later reissue).
func (s *AuthorizeService) mintIDTokenRow(ctx context.Context, endUserID, clientID, nonce string, authTime *time.Time) (string, string, error) {
	signed, expiresAt, err := oidc.GenerateIDToken(s.keys, oidc.MintParams{
		Issuer: s.issuer, Subject: endUserID, Audience: clientID,
		ExpiresIn: s.idTokenTTL, AuthTime: authTime, Nonce: nonce,
	})
	if err != nil {
		return "", "", err
	}
	row := &oidc.IdToken{
		ID: id.NewUUIDv7(), EndUserID: endUserID, Token: signed,
		CreatedAt: time.Now(), ExpiresAt: expiresAt,
	}
	if err := s.idTokens.Create(ctx, row); err != nil {
		return "", "", err
	}
	return signed, row.ID, nil
}

func scopesFor(res *resource.Resource, names []string) []resource.Scope {
	byName := make(map[string]resource.Scope, len(res.Scopes))
	for _, s := range res.Scopes {
		byName[s.Name] = s
	}
	out := make([]resource.Scope, 0, len(names))
	for _, n := range names {
		if s, ok := byName[n]; ok {
			out = append(out, s)
		}
	}
	return out
}
