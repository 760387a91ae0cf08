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

	"github.com/opentrusty/opentrusty/internal/oidc"
)

// IdTokenRepository implements oidc.IdTokenRepository.
type IdTokenRepository struct {
	db *DB
}

// NewIdTokenRepository creates a new id token repository.
func NewIdTokenRepository(db *DB) *IdTokenRepository {
	return &IdTokenRepository{db: db}
}

func (r *IdTokenRepository) Create(ctx context.Context, t *oidc.IdToken) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO id_tokens (id, end_user_id, token, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.EndUserID, t.Token, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create id token: %w", err)
	}
	return nil
}

func (r *IdTokenRepository) GetByID(ctx context.Context, id string) (*oidc.IdToken, error) {
	var t oidc.IdToken
	var deletedAt *time.Time
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, end_user_id, token, created_at, expires_at, deleted_at FROM id_tokens WHERE id = $1
	`, id).Scan(&t.ID, &t.EndUserID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &deletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oidc.ErrIdTokenNotFound
		}
		return nil, fmt.Errorf("failed to get id token: %w", err)
	}
	t.DeletedAt = deletedAt
	return &t, nil
}

func (r *IdTokenRepository) Update(ctx context.Context, t *oidc.IdToken) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE id_tokens SET token = $2, expires_at = $3 WHERE id = $1
	`, t.ID, t.Token, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to update id token: %w", err)
	}
	return nil
}

func (r *IdTokenRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `UPDATE id_tokens SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete id token: %w", err)
	}
	return nil
}

func (r *IdTokenRepository) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE id_tokens SET deleted_at = now() WHERE deleted_at IS NULL AND expires_at < $1
	`, olderThan)
	if err != nil {
		return fmt.Errorf("failed to delete expired id tokens: %w", err)
	}
	return nil
}
