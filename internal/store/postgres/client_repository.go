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

	"github.com/opentrusty/opentrusty/internal/oauth2"
)

// ClientRepository implements oauth2.ClientRepository.
type ClientRepository struct {
	db *DB
}

// NewClientRepository creates a new client repository.
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) Create(ctx context.Context, c *oauth2.Client) error {
	redirectURIs, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect uris: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO oauth2_clients (
			id, name, password_hash, website, type, client_secret, redirect_uris,
			resource_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.Name, c.PasswordHash, c.Website, c.Type, c.ClientSecret, redirectURIs,
		c.ResourceID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id string) (*oauth2.Client, error) {
	return r.scanOne(ctx, `
		SELECT id, name, password_hash, website, type, client_secret, redirect_uris,
			resource_id, created_at, updated_at, deleted_at
		FROM oauth2_clients WHERE id = $1 AND deleted_at IS NULL
	`, id)
}

func (r *ClientRepository) GetByName(ctx context.Context, name string) (*oauth2.Client, error) {
	return r.scanOne(ctx, `
		SELECT id, name, password_hash, website, type, client_secret, redirect_uris,
			resource_id, created_at, updated_at, deleted_at
		FROM oauth2_clients WHERE name = $1 AND deleted_at IS NULL
	`, name)
}

func (r *ClientRepository) scanOne(ctx context.Context, query string, arg any) (*oauth2.Client, error) {
	var c oauth2.Client
	var redirectURIsJSON []byte
	var deletedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.Name, &c.PasswordHash, &c.Website, &c.Type, &c.ClientSecret, &redirectURIsJSON,
		&c.ResourceID, &c.CreatedAt, &c.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	if err := json.Unmarshal(redirectURIsJSON, &c.RedirectURIs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal redirect uris: %w", err)
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return &c, nil
}

func (r *ClientRepository) Update(ctx context.Context, c *oauth2.Client) error {
	redirectURIs, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("failed to marshal redirect uris: %w", err)
	}
	_, err = r.db.pool.Exec(ctx, `
		UPDATE oauth2_clients SET name=$2, password_hash=$3, website=$4, type=$5,
			client_secret=$6, redirect_uris=$7, resource_id=$8, updated_at=$9
		WHERE id=$1 AND deleted_at IS NULL
	`, c.ID, c.Name, c.PasswordHash, c.Website, c.Type, c.ClientSecret, redirectURIs, c.ResourceID, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return nil
}

func (r *ClientRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `UPDATE oauth2_clients SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

func (r *ClientRepository) ListByResource(ctx context.Context, resourceID string) ([]*oauth2.Client, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, password_hash, website, type, client_secret, redirect_uris,
			resource_id, created_at, updated_at, deleted_at
		FROM oauth2_clients WHERE resource_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*oauth2.Client
	for rows.Next() {
		var c oauth2.Client
		var redirectURIsJSON []byte
		var deletedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.PasswordHash, &c.Website, &c.Type, &c.ClientSecret,
			&redirectURIsJSON, &c.ResourceID, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		if err := json.Unmarshal(redirectURIsJSON, &c.RedirectURIs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal redirect uris: %w", err)
		}
		if deletedAt.Valid {
			c.DeletedAt = &deletedAt.Time
		}
		clients = append(clients, &c)
	}
	return clients, nil
}
