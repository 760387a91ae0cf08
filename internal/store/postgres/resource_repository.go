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
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/opentrusty/internal/resource"
)

// ResourceRepository implements resource.Repository.
type ResourceRepository struct {
	db *DB
}

// NewResourceRepository creates a new resource repository.
func NewResourceRepository(db *DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

func (r *ResourceRepository) Create(ctx context.Context, res *resource.Resource) error {
	scopes, err := json.Marshal(res.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}
	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO resources (id, name, password_hash, website, resource_secret, scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, res.ID, res.Name, res.PasswordHash, res.Website, res.ResourceSecret, scopes, res.CreatedAt, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

func (r *ResourceRepository) GetByID(ctx context.Context, id string) (*resource.Resource, error) {
	return r.scanOne(ctx, `
		SELECT id, name, password_hash, website, resource_secret, scopes, created_at, updated_at, deleted_at
		FROM resources WHERE id = $1 AND deleted_at IS NULL
	`, id)
}

func (r *ResourceRepository) GetByName(ctx context.Context, name string) (*resource.Resource, error) {
	return r.scanOne(ctx, `
		SELECT id, name, password_hash, website, resource_secret, scopes, created_at, updated_at, deleted_at
		FROM resources WHERE name = $1 AND deleted_at IS NULL
	`, name)
}

func (r *ResourceRepository) scanOne(ctx context.Context, query string, arg any) (*resource.Resource, error) {
	var res resource.Resource
	var scopesJSON []byte
	var deletedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&res.ID, &res.Name, &res.PasswordHash, &res.Website, &res.ResourceSecret, &scopesJSON,
		&res.CreatedAt, &res.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, resource.ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	if err := json.Unmarshal(scopesJSON, &res.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
	}
	if deletedAt.Valid {
		res.DeletedAt = &deletedAt.Time
	}
	return &res, nil
}

func (r *ResourceRepository) Update(ctx context.Context, res *resource.Resource) error {
	scopes, err := json.Marshal(res.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}
	_, err = r.db.pool.Exec(ctx, `
		UPDATE resources SET name=$2, password_hash=$3, website=$4, resource_secret=$5, scopes=$6, updated_at=$7
		WHERE id=$1 AND deleted_at IS NULL
	`, res.ID, res.Name, res.PasswordHash, res.Website, res.ResourceSecret, scopes, res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}
	return nil
}

func (r *ResourceRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `UPDATE resources SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}

func (r *ResourceRepository) List(ctx context.Context, limit, offset int) ([]*resource.Resource, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, password_hash, website, resource_secret, scopes, created_at, updated_at, deleted_at
		FROM resources WHERE deleted_at IS NULL ORDER BY created_at LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var out []*resource.Resource
	for rows.Next() {
		var res resource.Resource
		var scopesJSON []byte
		var deletedAt sql.NullTime
		if err := rows.Scan(&res.ID, &res.Name, &res.PasswordHash, &res.Website, &res.ResourceSecret,
			&scopesJSON, &res.CreatedAt, &res.UpdatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		if err := json.Unmarshal(scopesJSON, &res.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}
		if deletedAt.Valid {
			res.DeletedAt = &deletedAt.Time
		}
		out = append(out, &res)
	}
	return out, nil
}
