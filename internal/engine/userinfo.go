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

	"github.com/opentrusty/opentrusty/internal/identity"
	"github.com/opentrusty/opentrusty/internal/oauth2"
	"github.com/opentrusty/opentrusty/internal/oidcerr"
)

// EndUserClaims is the Userinfo projection of an EndUser (spec §4.6): the
// OIDC standard claims set plus the minimal token-derived claims (iss, sub,
// aud, auth_time).
type EndUserClaims struct {
	Iss      string
	Sub      string
	Aud      string
	AuthTime int64

	Name                string
	Email               string
	EmailVerified       bool
	PhoneNumber         string
	PhoneNumberVerified bool
	GivenName           string
	FamilyName          string
	MiddleName          string
	Nickname            string
	Profile             string
	Picture             string
	Website             string
	Gender              string
	Birthdate           string
	Zoneinfo            string
	Locale              string
}

// UserinfoService implements spec §4.6.
type UserinfoService struct {
	accessTokens oauth2.AccessTokenRepository
	users        identity.UserRepository
	issuer       string
}

// NewUserinfoService constructs a UserinfoService.
func NewUserinfoService(accessTokens oauth2.AccessTokenRepository, users identity.UserRepository, issuer string) *UserinfoService {
	return &UserinfoService{accessTokens: accessTokens, users: users, issuer: issuer}
}

// Userinfo implements spec §4.6, steps 1-3.
func (s *UserinfoService) Userinfo(ctx context.Context, bearerToken string) (*EndUserClaims, error) {
	at, err := s.accessTokens.GetByToken(ctx, bearerToken)
	if err != nil || at == nil || !at.IsValid() {
		return nil, oidcerr.New(oidcerr.UserinfoError, "access token not found or expired")
	}
	if at.EndUserID == "" {
		return nil, oidcerr.New(oidcerr.UserinfoError, "token was not issued to an end user")
	}

	user, err := s.users.GetByID(at.EndUserID)
	if err != nil || user == nil || user.IsDeleted() {
		return nil, oidcerr.New(oidcerr.UserinfoError, "end user not found")
	}

	claims := &EndUserClaims{
		Iss: s.issuer, Sub: user.ID, Aud: at.ClientID,
		Name: user.Name, Email: user.Email, EmailVerified: user.EmailVerified,
		PhoneNumber: user.Profile.PhoneNumber, PhoneNumberVerified: user.PhoneNumberVerified,
		GivenName: user.Profile.GivenName, FamilyName: user.Profile.FamilyName,
		MiddleName: user.Profile.MiddleName, Nickname: user.Profile.Nickname,
		Profile: user.Profile.Profile, Picture: user.Profile.Picture,
		Website: user.Profile.Website, Gender: user.Profile.Gender,
		Birthdate: user.Profile.Birthdate, Zoneinfo: user.Profile.Zoneinfo,
		Locale: user.Profile.Locale,
	}
	if user.AuthenticatedAt != nil {
		claims.AuthTime = user.AuthenticatedAt.Unix()
	}

	return claims, nil
}
