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

package oauth2

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenNotFound = errors.New("token not found")
)

// AccessToken is an opaque bearer credential for accessing resources (spec §3).
type AccessToken struct {
	ID         string
	ClientID   string
	ResourceID string
	EndUserID  string // empty for client-credentials tokens
	Token      string // opaque, 64 chars
	ExpiresInSec int
	CreatedAt  time.Time
	Scope      []string
	State      string
	Nonce      string
	DeletedAt  *time.Time
}

// ExpiresAt is the derived absolute deadline: created_at + expires_in_sec.
func (a *AccessToken) ExpiresAt() time.Time {
	return a.CreatedAt.Add(time.Duration(a.ExpiresInSec) * time.Second)
}

// IsValid reports whether the token is unexpired and not soft-deleted.
func (a *AccessToken) IsValid() bool {
	return a.DeletedAt == nil && time.Now().Before(a.ExpiresAt())
}

// HasScope reports whether target is present in the token's scope.
func (a *AccessToken) HasScope(target string) bool {
	for _, s := range a.Scope {
		if s == target {
			return true
		}
	}
	return false
}

// AccessTokenRepository defines AccessToken persistence.
type AccessTokenRepository interface {
	Create(ctx context.Context, t *AccessToken) error
	GetByToken(ctx context.Context, token string) (*AccessToken, error)

	// Rotate replaces the token string and resets created_at on the token
	// identified by id (refresh-token grant rotation, spec §4.2 step 3). It
	// retains id/client/resource/scope/end_user_id/state/nonce and the
	// original expires_in_sec.
	Rotate(ctx context.Context, id string, newToken string, createdAt time.Time) (*AccessToken, error)

	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, olderThan time.Time) error
}

// RefreshToken is an opaque credential to mint a new AccessToken and
// optionally refresh the IdToken (spec §3). The token string itself is the
// primary key and, per the preserved open question in spec §9, is never
// rotated by this engine.
type RefreshToken struct {
	Token         string // primary key, opaque 64 chars
	AccessTokenID string
	IDTokenID     string // empty unless the originating grant had scope "openid"
	CreatedAt     time.Time
	ExpiresAt     time.Time
	DeletedAt     *time.Time
}

// IsValid reports whether the refresh token is unexpired and not soft-deleted.
func (r *RefreshToken) IsValid() bool {
	return r.DeletedAt == nil && time.Now().Before(r.ExpiresAt)
}

// RefreshTokenRepository defines RefreshToken persistence.
type RefreshTokenRepository interface {
	Create(ctx context.Context, t *RefreshToken) error
	GetByToken(ctx context.Context, token string) (*RefreshToken, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, olderThan time.Time) error
}
