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

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/opentrusty/internal/oauth2"
)

// RefreshTokenRepository implements oauth2.RefreshTokenRepository.
type RefreshTokenRepository struct {
	db *DB
}

// NewRefreshTokenRepository creates a new refresh token repository.
func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *oauth2.RefreshToken) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (token, access_token_id, id_token_id, created_at, expires_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`, t.Token, t.AccessTokenID, t.IDTokenID, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetByToken(ctx context.Context, token string) (*oauth2.RefreshToken, error) {
	var t oauth2.RefreshToken
	var idTokenID *string
	var deletedAt *time.Time

	err := r.db.pool.QueryRow(ctx, `
		SELECT token, access_token_id, id_token_id, created_at, expires_at, deleted_at
		FROM refresh_tokens WHERE token = $1
	`, token).Scan(&t.Token, &t.AccessTokenID, &idTokenID, &t.CreatedAt, &t.ExpiresAt, &deletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if idTokenID != nil {
		t.IDTokenID = *idTokenID
	}
	t.DeletedAt = deletedAt
	return &t, nil
}

func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.pool.Exec(ctx, `UPDATE refresh_tokens SET deleted_at = now() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE refresh_tokens SET deleted_at = now() WHERE deleted_at IS NULL AND expires_at < $1
	`, olderThan)
	if err != nil {
		return fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return nil
}
