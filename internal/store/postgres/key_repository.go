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

	"github.com/jackc/pgx/v5"
)

// KeyRepository implements oidc.KeyRepository: a single encrypted row
// holding the process-wide RSA signing key (spec §4.7).
type KeyRepository struct {
	db *DB
}

// NewKeyRepository creates a new key repository.
func NewKeyRepository(db *DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Load returns the encrypted private key DER, or found=false if no key has
// been generated yet.
func (r *KeyRepository) Load(ctx context.Context) ([]byte, bool, error) {
	var encrypted []byte
	err := r.db.pool.QueryRow(ctx, `
		SELECT encrypted_private_key_der FROM openid_signing_key WHERE id = 1
	`).Scan(&encrypted)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load signing key: %w", err)
	}
	return encrypted, true, nil
}

// Save persists the encrypted private key DER as the sole row.
func (r *KeyRepository) Save(ctx context.Context, encryptedPrivateKeyDER []byte) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO openid_signing_key (id, encrypted_private_key_der, created_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET encrypted_private_key_der = EXCLUDED.encrypted_private_key_der
	`, encryptedPrivateKeyDER)
	if err != nil {
		return fmt.Errorf("failed to save signing key: %w", err)
	}
	return nil
}
