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

	"github.com/opentrusty/opentrusty/internal/identity"
)

// EndUserRepository implements identity.UserRepository.
type EndUserRepository struct {
	db *DB
}

// NewEndUserRepository creates a new end-user repository.
func NewEndUserRepository(db *DB) *EndUserRepository {
	return &EndUserRepository{db: db}
}

func (r *EndUserRepository) Create(user *identity.User) error {
	ctx := context.Background()
	profile, err := json.Marshal(user.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO end_users (
			id, name, email, email_verified, phone_number_verified, profile,
			accepted_clients, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, '[]', $7, $8)
	`, user.ID, user.Name, user.Email, user.EmailVerified, user.PhoneNumberVerified, profile,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create end user: %w", err)
	}
	return nil
}

func (r *EndUserRepository) AddCredentials(c *identity.Credentials) error {
	ctx := context.Background()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO end_user_credentials (user_id, password_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
	`, c.UserID, c.PasswordHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add credentials: %w", err)
	}
	return nil
}

func (r *EndUserRepository) GetByID(id string) (*identity.User, error) {
	return r.scanOne(context.Background(), `
		SELECT id, name, email, email_verified, phone_number_verified, profile, accepted_clients,
			authenticated_at, failed_login_attempts, locked_until, created_at, updated_at, deleted_at
		FROM end_users WHERE id = $1 AND deleted_at IS NULL
	`, id)
}

func (r *EndUserRepository) GetByName(name string) (*identity.User, error) {
	return r.scanOne(context.Background(), `
		SELECT id, name, email, email_verified, phone_number_verified, profile, accepted_clients,
			authenticated_at, failed_login_attempts, locked_until, created_at, updated_at, deleted_at
		FROM end_users WHERE name = $1 AND deleted_at IS NULL
	`, name)
}

func (r *EndUserRepository) GetByEmail(email string) (*identity.User, error) {
	return r.scanOne(context.Background(), `
		SELECT id, name, email, email_verified, phone_number_verified, profile, accepted_clients,
			authenticated_at, failed_login_attempts, locked_until, created_at, updated_at, deleted_at
		FROM end_users WHERE email = $1 AND deleted_at IS NULL
	`, email)
}

func (r *EndUserRepository) scanOne(ctx context.Context, query string, arg any) (*identity.User, error) {
	var u identity.User
	var profileJSON, acceptedJSON []byte
	var authenticatedAt, lockedUntil, deletedAt sql.NullTime

	err := r.db.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Name, &u.Email, &u.EmailVerified, &u.PhoneNumberVerified, &profileJSON, &acceptedJSON,
		&authenticatedAt, &u.FailedLoginAttempts, &lockedUntil, &u.CreatedAt, &u.UpdatedAt, &deletedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get end user: %w", err)
	}
	if err := json.Unmarshal(profileJSON, &u.Profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if err := json.Unmarshal(acceptedJSON, &u.AcceptedClients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accepted clients: %w", err)
	}
	if authenticatedAt.Valid {
		u.AuthenticatedAt = &authenticatedAt.Time
	}
	if lockedUntil.Valid {
		u.LockedUntil = &lockedUntil.Time
	}
	if deletedAt.Valid {
		u.DeletedAt = &deletedAt.Time
	}
	return &u, nil
}

func (r *EndUserRepository) Update(user *identity.User) error {
	ctx := context.Background()
	profile, err := json.Marshal(user.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	_, err = r.db.pool.Exec(ctx, `
		UPDATE end_users SET name=$2, email=$3, email_verified=$4, phone_number_verified=$5,
			profile=$6, updated_at=$7
		WHERE id=$1 AND deleted_at IS NULL
	`, user.ID, user.Name, user.Email, user.EmailVerified, user.PhoneNumberVerified, profile, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update end user: %w", err)
	}
	return nil
}

func (r *EndUserRepository) UpdateLockout(userID string, failedAttempts int, lockedUntil *time.Time) error {
	ctx := context.Background()
	_, err := r.db.pool.Exec(ctx, `
		UPDATE end_users SET failed_login_attempts = $2, locked_until = $3 WHERE id = $1
	`, userID, failedAttempts, lockedUntil)
	if err != nil {
		return fmt.Errorf("failed to update lockout state: %w", err)
	}
	return nil
}

func (r *EndUserRepository) Delete(id string) error {
	ctx := context.Background()
	_, err := r.db.pool.Exec(ctx, `UPDATE end_users SET deleted_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete end user: %w", err)
	}
	return nil
}

func (r *EndUserRepository) GetCredentials(userID string) (*identity.Credentials, error) {
	ctx := context.Background()
	var c identity.Credentials
	err := r.db.pool.QueryRow(ctx, `
		SELECT user_id, password_hash, updated_at FROM end_user_credentials WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.PasswordHash, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, identity.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &c, nil
}

func (r *EndUserRepository) UpdatePassword(userID string, passwordHash string) error {
	ctx := context.Background()
	_, err := r.db.pool.Exec(ctx, `
		UPDATE end_user_credentials SET password_hash = $2, updated_at = now() WHERE user_id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// MergeAcceptedClient performs the idempotent set-union merge as a
// transactional read-modify-write guarded by a row lock, tolerating (per
// spec §5) concurrent consents for the same (end_user, client).
func (r *EndUserRepository) MergeAcceptedClient(userID, clientID string, scope []string) error {
	ctx := context.Background()
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var acceptedJSON []byte
	if err := tx.QueryRow(ctx, `
		SELECT accepted_clients FROM end_users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&acceptedJSON); err != nil {
		if err == pgx.ErrNoRows {
			return identity.ErrUserNotFound
		}
		return fmt.Errorf("failed to lock end user row: %w", err)
	}

	var accepted []identity.AcceptedClient
	if err := json.Unmarshal(acceptedJSON, &accepted); err != nil {
		return fmt.Errorf("failed to unmarshal accepted clients: %w", err)
	}

	merged := false
	for i, ac := range accepted {
		if ac.ClientID != clientID {
			continue
		}
		have := make(map[string]bool, len(ac.Scope))
		for _, s := range ac.Scope {
			have[s] = true
		}
		union := append([]string{}, ac.Scope...)
		for _, s := range scope {
			if !have[s] {
				union = append(union, s)
				have[s] = true
			}
		}
		accepted[i].Scope = union
		merged = true
		break
	}
	if !merged {
		accepted = append(accepted, identity.AcceptedClient{ClientID: clientID, Scope: append([]string{}, scope...)})
	}

	newJSON, err := json.Marshal(accepted)
	if err != nil {
		return fmt.Errorf("failed to marshal accepted clients: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE end_users SET accepted_clients = $2 WHERE id = $1`, userID, newJSON); err != nil {
		return fmt.Errorf("failed to persist accepted clients: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *EndUserRepository) UpdateAuthenticatedAt(userID string, at time.Time) error {
	ctx := context.Background()
	_, err := r.db.pool.Exec(ctx, `UPDATE end_users SET authenticated_at = $2 WHERE id = $1`, userID, at)
	if err != nil {
		return fmt.Errorf("failed to update authenticated_at: %w", err)
	}
	return nil
}
