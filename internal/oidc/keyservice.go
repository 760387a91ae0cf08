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

// Package oidc provides the Key Service (RSA signing material for ID
// tokens) and the IdToken entity/claims the Authorize, Refresh and Userinfo
// services build.
package oidc

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"time"
)

// KeyService provides three byte-level artifacts loaded once at process
// start and immutable for process lifetime (spec §4.7): the RSA private key
// (DER), the RSA public key (DER), and the public key as PEM text for the
// /oidc/publickey endpoint. Non-goals exclude a JWKS endpoint and discovery
// document (spec §1); a PEM public-key endpoint is provided instead.
type KeyService struct {
	privateKey    *rsa.PrivateKey
	publicKeyDER  []byte
	publicKeyPEM  []byte
}

// KeyRepository persists the single signing key, encrypted at rest with
// OPENID_KEY_ENCRYPTION_KEY (AES-256-GCM). It is a process-wide singleton:
// generated once, persisted, and decrypted again on every subsequent start
// (spec §9: "RSA key material as process-wide lazily-initialized singletons
// ... map to a single initialization at startup").
type KeyRepository interface {
	Load(ctx context.Context) (encryptedPrivateKeyDER []byte, found bool, err error)
	Save(ctx context.Context, encryptedPrivateKeyDER []byte) error
}

// NewKeyService loads the signing key from repo, generating and persisting a
// fresh RSA-2048 key on first run.
func NewKeyService(ctx context.Context, repo KeyRepository, encryptionKey []byte) (*KeyService, error) {
	encrypted, found, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	var priv *rsa.PrivateKey
	if found {
		der, err := decryptAESGCM(encryptionKey, encrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt signing key: %w", err)
		}
		priv, err = x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
	} else {
		priv, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
		der := x509.MarshalPKCS1PrivateKey(priv)
		encrypted, err = encryptAESGCM(encryptionKey, der)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt signing key: %w", err)
		}
		if err := repo.Save(ctx, encrypted); err != nil {
			return nil, fmt.Errorf("failed to persist signing key: %w", err)
		}
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return &KeyService{
		privateKey:   priv,
		publicKeyDER: pubDER,
		publicKeyPEM: pubPEM,
	}, nil
}

// PrivateKey returns the RSA private key used to sign ID tokens.
func (k *KeyService) PrivateKey() *rsa.PrivateKey { return k.privateKey }

// PublicKeyDER returns the DER-encoded RSA public key.
func (k *KeyService) PublicKeyDER() []byte { return k.publicKeyDER }

// PublicKeyPEM returns the PEM-encoded public key served at /oidc/publickey.
func (k *KeyService) PublicKeyPEM() []byte { return k.publicKeyPEM }

func encryptAESGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptAESGCM(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// clock is overridable in tests.
var clock = time.Now
