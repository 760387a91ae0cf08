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
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/opentrusty/opentrusty/internal/oauth2"
)

// GrantRepository implements oauth2.GrantRepository, including the two
// compare-and-swap status transitions the single-use code invariant depends
// on (spec §5/§9: the engine requires the persistence adapter to expose a
// conditional update).
type GrantRepository struct {
	db *DB
}

// NewGrantRepository creates a new grant repository.
func NewGrantRepository(db *DB) *GrantRepository {
	return &GrantRepository{db: db}
}

func (r *GrantRepository) Create(ctx context.Context, g *oauth2.Grant) error {
	scope, err := json.Marshal(g.Scope)
	if err != nil {
		return fmt.Errorf("failed to marshal scope: %w", err)
	}
	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO grants (
			id, end_user_id, client_id, resource_id, redirect_uri, code, response_type,
			scope, state, nonce, created_at, expires_in_sec, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, g.ID, g.EndUserID, g.ClientID, g.ResourceID, g.RedirectURI, g.Code, g.ResponseType.String(),
		scope, g.State, g.Nonce, g.CreatedAt, g.ExpiresInSec, string(g.Status))
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

func (r *GrantRepository) GetByID(ctx context.Context, id string) (*oauth2.Grant, error) {
	return r.scanOne(ctx, `
		SELECT id, end_user_id, client_id, resource_id, redirect_uri, code, response_type,
			scope, state, nonce, created_at, expires_in_sec, status, deleted_at
		FROM grants WHERE id = $1 AND deleted_at IS NULL
	`, id)
}

func (r *GrantRepository) GetByCode(ctx context.Context, code string) (*oauth2.Grant, error) {
	return r.scanOne(ctx, `
		SELECT id, end_user_id, client_id, resource_id, redirect_uri, code, response_type,
			scope, state, nonce, created_at, expires_in_sec, status, deleted_at
		FROM grants WHERE code = $1 AND deleted_at IS NULL
	`, code)
}

// FindByIDAndChangeStatus atomically transitions the grant from `from` to
// `to` and returns the UPDATED row, per oauth2.GrantRepository's contract.
func (r *GrantRepository) FindByIDAndChangeStatus(ctx context.Context, id string, from, to oauth2.GrantStatus) (*oauth2.Grant, error) {
	g, err := r.scanOne(ctx, `
		UPDATE grants SET status = $3
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL
		RETURNING id, end_user_id, client_id, resource_id, redirect_uri, code, response_type,
			scope, state, nonce, created_at, expires_in_sec, status, deleted_at
	`, id, string(from), string(to))
	if err == oauth2.ErrGrantNotFound {
		return nil, r.classifyMissedTransition(ctx, "id", id)
	}
	return g, err
}

// FindByCodeAndChangeStatus atomically transitions the grant from `from` to
// `to` and returns the PRIOR row, as captured by the CTE before the UPDATE
// applies (per oauth2.GrantRepository's contract: the caller needs the
// pre-transition end_user_id/scope/response_type for token issuance).
func (r *GrantRepository) FindByCodeAndChangeStatus(ctx context.Context, code string, from, to oauth2.GrantStatus) (*oauth2.Grant, error) {
	var g oauth2.Grant
	var scopeJSON []byte
	var status string
	var responseType string
	var deletedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, `
		WITH prior AS (
			SELECT * FROM grants WHERE code = $1 AND status = $2 AND deleted_at IS NULL FOR UPDATE
		)
		UPDATE grants SET status = $3
		FROM prior WHERE grants.id = prior.id
		RETURNING prior.id, prior.end_user_id, prior.client_id, prior.resource_id, prior.redirect_uri,
			prior.code, prior.response_type, prior.scope, prior.state, prior.nonce, prior.created_at,
			prior.expires_in_sec, prior.status, prior.deleted_at
	`, code, string(from), string(to)).Scan(
		&g.ID, &g.EndUserID, &g.ClientID, &g.ResourceID, &g.RedirectURI, &g.Code, &responseType,
		&scopeJSON, &g.State, &g.Nonce, &g.CreatedAt, &g.ExpiresInSec, &status, &deletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyMissedTransition(ctx, "code", code)
		}
		return nil, fmt.Errorf("failed to transition grant: %w", err)
	}
	g.ResponseType = oauth2.ParseResponseType(responseType)
	g.Status = oauth2.GrantStatus(status)
	if err := json.Unmarshal(scopeJSON, &g.Scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
	}
	if deletedAt.Valid {
		g.DeletedAt = &deletedAt.Time
	}
	return &g, nil
}

// classifyMissedTransition distinguishes "grant doesn't exist at all" from
// "grant exists but is no longer in the expected status" (already used),
// since the CAS UPDATE alone can't tell the two apart.
func (r *GrantRepository) classifyMissedTransition(ctx context.Context, column, value string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM grants WHERE %s = $1 AND deleted_at IS NULL)`, column)
	if err := r.db.pool.QueryRow(ctx, query, value).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check grant existence: %w", err)
	}
	if !exists {
		return oauth2.ErrGrantNotFound
	}
	return oauth2.ErrGrantAlreadyUsed
}

func (r *GrantRepository) scanOne(ctx context.Context, query string, args ...any) (*oauth2.Grant, error) {
	var g oauth2.Grant
	var scopeJSON []byte
	var status string
	var responseType string
	var deletedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, query, args...).Scan(
		&g.ID, &g.EndUserID, &g.ClientID, &g.ResourceID, &g.RedirectURI, &g.Code, &responseType,
		&scopeJSON, &g.State, &g.Nonce, &g.CreatedAt, &g.ExpiresInSec, &status, &deletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oauth2.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	g.ResponseType = oauth2.ParseResponseType(responseType)
	g.Status = oauth2.GrantStatus(status)
	if err := json.Unmarshal(scopeJSON, &g.Scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
	}
	if deletedAt.Valid {
		g.DeletedAt = &deletedAt.Time
	}
	return &g, nil
}

func (r *GrantRepository) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE grants SET deleted_at = now()
		WHERE deleted_at IS NULL AND created_at + (expires_in_sec * interval '1 second') < $1
	`, olderThan)
	if err != nil {
		return fmt.Errorf("failed to delete expired grants: %w", err)
	}
	return nil
}
