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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKeyRepository is an in-memory KeyRepository for tests, standing in for
// the Postgres-backed KeyRepository.
type fakeKeyRepository struct {
	encrypted []byte
	found     bool
}

func (f *fakeKeyRepository) Load(ctx context.Context) ([]byte, bool, error) {
	return f.encrypted, f.found, nil
}

func (f *fakeKeyRepository) Save(ctx context.Context, encrypted []byte) error {
	f.encrypted = encrypted
	f.found = true
	return nil
}

var testEncryptionKey = []byte("01234567890123456789012345678901") // 32 bytes

func newTestKeyService(t *testing.T) *KeyService {
	t.Helper()
	repo := &fakeKeyRepository{}
	ks, err := NewKeyService(context.Background(), repo, testEncryptionKey[:32])
	require.NoError(t, err)
	return ks
}

// TestPurpose: Validates that a signing key generated on first run can be
// decrypted and reused identically across a second process start.
// Scope: Unit Test
// Security: Key-at-rest encryption (AES-256-GCM)
// Expected: The public key DER bytes are identical across both KeyService
// instances sharing the same backing repository and encryption key.
func TestKeyService_PersistsAndReloadsKey(t *testing.T) {
	repo := &fakeKeyRepository{}

	first, err := NewKeyService(context.Background(), repo, testEncryptionKey)
	require.NoError(t, err)
	require.True(t, repo.found)

	second, err := NewKeyService(context.Background(), repo, testEncryptionKey)
	require.NoError(t, err)

	assert.Equal(t, first.PublicKeyDER(), second.PublicKeyDER())
}

func TestKeyService_WrongEncryptionKeyFailsToDecrypt(t *testing.T) {
	repo := &fakeKeyRepository{}
	_, err := NewKeyService(context.Background(), repo, testEncryptionKey)
	require.NoError(t, err)

	wrongKey := []byte("99999999999999999999999999999999")
	_, err = NewKeyService(context.Background(), repo, wrongKey)
	assert.Error(t, err)
}

func TestGenerateIDToken_RoundTrip(t *testing.T) {
	ks := newTestKeyService(t)
	authTime := time.Now().Add(-5 * time.Minute)

	signed, expiresAt, err := GenerateIDToken(ks, MintParams{
		Issuer:    "https://issuer.example.com",
		Subject:   "user-1",
		Audience:  "client-1",
		ExpiresIn: time.Hour,
		AuthTime:  &authTime,
		Nonce:     "abc123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, signed)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := ParseIDToken(ks, signed)
	require.NoError(t, err)
	assert.Equal(t, "https://issuer.example.com", claims.Issuer)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "abc123", claims.Nonce)
	assert.Equal(t, authTime.Unix(), claims.AuthTime)
}

func TestParseIDToken_RejectsTamperedToken(t *testing.T) {
	ks := newTestKeyService(t)
	signed, _, err := GenerateIDToken(ks, MintParams{
		Issuer: "https://issuer.example.com", Subject: "user-1", Audience: "client-1", ExpiresIn: time.Hour,
	})
	require.NoError(t, err)

	tampered := signed[:len(signed)-1] + "x"
	_, err = ParseIDToken(ks, tampered)
	assert.Error(t, err)
}

func TestIdToken_IsValid(t *testing.T) {
	valid := &IdToken{ExpiresAt: time.Now().Add(time.Hour)}
	assert.True(t, valid.IsValid())

	expired := &IdToken{ExpiresAt: time.Now().Add(-time.Hour)}
	assert.False(t, expired.IsValid())

	deleted := &IdToken{ExpiresAt: time.Now().Add(time.Hour)}
	now := time.Now()
	deleted.DeletedAt = &now
	assert.False(t, deleted.IsValid())
}
