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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/opentrusty/internal/oauth2"
)

// AccessTokenRepository implements oauth2.AccessTokenRepository.
type AccessTokenRepository struct {
	db *DB
}

// NewAccessTokenRepository creates a new access token repository.
func NewAccessTokenRepository(db *DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

func (r *AccessTokenRepository) Create(ctx context.Context, t *oauth2.AccessToken) error {
	scope, err := json.Marshal(t.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal scope: %w", err)
	}
	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO access_tokens (
			id, client_id, resource_id, end_user_id, token, expires_in_sec, created_at, scope, state, nonce
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.ClientID, t.ResourceID, t.EndUserID, t.Token, t.ExpiresInSec, t.CreatedAt, scope, t.State, t.Nonce)
	if err != nil {
		return fmt.Errorf("failed to create access token: %w", err)
	}
	return nil
}

func (r *AccessTokenRepository) GetByToken(ctx context.Context, token string) (*oauth2.AccessToken, error) {
	var t oauth2.AccessToken
	var scopeJSON []byte
	var deletedAt *time.Time

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, client_id, resource_id, end_user_id, token, expires_in_sec, created_at, scope, state, nonce, deleted_at
		FROM access_tokens WHERE token = $1
	`, token).Scan(&t.ID, &t.ClientID, &t.ResourceID, &t.EndUserID, &t.Token, &t.ExpiresInSec, &t.CreatedAt,
		&scopeJSON, &t.State, &t.Nonce, &deletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}
	if err := json.Unmarshal(scopeJSON, &t.Scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
	}
	t.DeletedAt = deletedAt
	return &t, nil
}

// Rotate replaces token and created_at on the row identified by id, per
// oauth2.AccessTokenRepository's rotation contract (spec §4.2 step 3).
func (r *AccessTokenRepository) Rotate(ctx context.Context, id string, newToken string, createdAt time.Time) (*oauth2.AccessToken, error) {
	var t oauth2.AccessToken
	var scopeJSON []byte
	var deletedAt *time.Time

	err := r.db.pool.QueryRow(ctx, `
		UPDATE access_tokens SET token = $2, created_at = $3
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id, client_id, resource_id, end_user_id, token, expires_in_sec, created_at, scope, state, nonce, deleted_at
	`, id, newToken, createdAt).Scan(&t.ID, &t.ClientID, &t.ResourceID, &t.EndUserID, &t.Token, &t.ExpiresInSec,
		&t.CreatedAt, &scopeJSON, &t.State, &t.Nonce, &deletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to rotate access token: %w", err)
	}
	if err := json.Unmarshal(scopeJSON, &t.Scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
	}
	t.DeletedAt = deletedAt
	return &t, nil
}

func (r *AccessTokenRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `UPDATE access_tokens SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

func (r *AccessTokenRepository) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE access_tokens SET deleted_at = now()
		WHERE deleted_at IS NULL AND created_at + (expires_in_sec * interval '1 second') < $1
	`, olderThan)
	if err != nil {
		return fmt.Errorf("failed to delete expired access tokens: %w", err)
	}
	return nil
}
