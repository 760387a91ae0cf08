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

package oidc

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opentrusty/opentrusty/internal/id"
)

var ErrIdTokenNotFound = errors.New("id token not found")

// IdToken is the persisted record backing a minted OIDC ID Token JWT (spec
// §3): {id, end_user_id, token, created_at, expires_at}. The JWT itself
// carries the claims; the row exists so a refresh_token can look its
// id_token_id up and reissue a claim-preserving successor (spec §4.2 step 5).
type IdToken struct {
	ID         string
	EndUserID  string
	Token      string // signed RS256 compact JWT
	CreatedAt  time.Time
	ExpiresAt  time.Time
	DeletedAt  *time.Time
}

// IsValid reports whether the ID token is unexpired and not soft-deleted.
func (t *IdToken) IsValid() bool {
	return t.DeletedAt == nil && time.Now().Before(t.ExpiresAt)
}

// IdTokenRepository defines IdToken persistence.
type IdTokenRepository interface {
	Create(ctx context.Context, t *IdToken) error
	GetByID(ctx context.Context, id string) (*IdToken, error)

	// Update overwrites token/expires_at on an existing row, reusing its id.
	// Used by the Refresh Token Service to reissue an ID token in place
	// while preserving auth_time/azp (spec §4.2 step 4).
	Update(ctx context.Context, t *IdToken) error

	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, olderThan time.Time) error
}

// Claims is the RS256 ID Token claim set this provider mints. A deliberately
// small, spec-named set: iss/sub/aud/exp/iat are always present; auth_time,
// nonce, acr, amr and azp are populated only when the originating request
// carried them (spec §3 IdToken / §4.1 step 11). at_hash, a JWKS "kid" and
// any Discovery-derived claim are intentionally absent — JWKS and the
// discovery document are explicit non-goals; a PEM public-key endpoint is
// provided instead.
type Claims struct {
	jwt.RegisteredClaims
	AuthTime int64  `json:"auth_time,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	ACR      string `json:"acr,omitempty"`
	AMR      []string `json:"amr,omitempty"`
	AZP      string `json:"azp,omitempty"`
}

// MintParams carries everything GenerateIDToken needs to build one Claims
// set. AuthTime, Nonce, ACR, AMR and AZP are optional: pass zero values to
// omit them from the resulting JWT.
type MintParams struct {
	Issuer    string
	Subject   string // end_user_id
	Audience  string // client_id
	ExpiresIn time.Duration
	AuthTime  *time.Time
	Nonce     string
	ACR       string
	AMR       []string
	AZP       string // set only when aud has multiple audiences; unused here (single-audience aud)
}

// GenerateIDToken signs an RS256 JWT for the given params using k's private
// key. Preserves auth_time/azp across reissue so a refreshed ID token still
// reflects the original authentication event.
func GenerateIDToken(k *KeyService, p MintParams) (string, time.Time, error) {
	now := clock()
	expiresAt := now.Add(p.ExpiresIn)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings{p.Audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        id.NewUUIDv7(),
		},
		Nonce: p.Nonce,
		ACR:   p.ACR,
		AMR:   p.AMR,
		AZP:   p.AZP,
	}
	if p.AuthTime != nil {
		claims.AuthTime = p.AuthTime.Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(k.PrivateKey())
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseIDToken verifies and decodes a previously minted ID token, used by
// the Refresh Token Service to recover auth_time/azp from the prior ID token
// when reissuing it.
func ParseIDToken(k *KeyService, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return &k.PrivateKey().PublicKey, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}
