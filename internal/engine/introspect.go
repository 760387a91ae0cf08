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

	"github.com/opentrusty/opentrusty/internal/identity"
	"github.com/opentrusty/opentrusty/internal/oauth2"
	"github.com/opentrusty/opentrusty/internal/oidcerr"
	"github.com/opentrusty/opentrusty/internal/resource"
)

// IntrospectResult is the JSON body of a successful /oidc/introspect
// response (spec §6, RFC 7662). Field name is "active", never "action".
type IntrospectResult struct {
	Active    bool
	Scope     string
	ClientID  string
	Username  string
	TokenType string
	Exp       int64
	Iat       int64
	Sub       string
	Aud       string
	Iss       string
}

// InactiveIntrospectResult is the inactive-token shape: every field but
// Active omitted (spec §8: "active=false iff token missing/expired/deleted
// OR its referenced EndUser/Resource no longer resolve").
func InactiveIntrospectResult() *IntrospectResult {
	return &IntrospectResult{Active: false}
}

// IntrospectService implements spec §4.5.
type IntrospectService struct {
	clients      oauth2.ClientRepository
	accessTokens oauth2.AccessTokenRepository
	users        identity.UserRepository
	resources    resource.Repository
	issuer       string
}

// NewIntrospectService constructs an IntrospectService.
func NewIntrospectService(
	clients oauth2.ClientRepository,
	accessTokens oauth2.AccessTokenRepository,
	users identity.UserRepository,
	resources resource.Repository,
	issuer string,
) *IntrospectService {
	return &IntrospectService{clients: clients, accessTokens: accessTokens, users: users, resources: resources, issuer: issuer}
}

// Introspect implements spec §4.5, steps 1-5. Client authentication failure
// is the one error this operation surfaces directly; every other failure
// mode collapses to {active: false} rather than an error (spec §8).
func (s *IntrospectService) Introspect(ctx context.Context, clientID, clientSecret, token string) (*IntrospectResult, error) {
	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil || client == nil || !client.AuthenticateBySecret(clientSecret) {
		return nil, oidcerr.New(oidcerr.UnauthorizedClient, "client authentication failed")
	}

	at, err := s.accessTokens.GetByToken(ctx, token)
	if err != nil || at == nil || !at.IsValid() {
		return InactiveIntrospectResult(), nil
	}

	var username string
	if at.EndUserID != "" {
		user, err := s.users.GetByID(at.EndUserID)
		if err != nil || user == nil || user.IsDeleted() {
			return InactiveIntrospectResult(), nil
		}
		username = user.Name
	}

	res, err := s.resources.GetByID(ctx, at.ResourceID)
	if err != nil || res == nil || res.IsDeleted() {
		return InactiveIntrospectResult(), nil
	}

	var kept []string
	for _, sc := range at.Scope {
		if res.HasScope(sc) {
			kept = append(kept, sc)
		}
	}

	return &IntrospectResult{
		Active:    true,
		Scope:     strings.Join(kept, " "),
		ClientID:  at.ClientID,
		Username:  username,
		TokenType: "Bearer",
		Exp:       at.ExpiresAt().Unix(),
		Iat:       at.CreatedAt.Unix(),
		Sub:       at.EndUserID,
		Aud:       at.ClientID,
		Iss:       s.issuer,
	}, nil
}
