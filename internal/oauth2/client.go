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

// Package oauth2 holds the Client, Grant, AccessToken and RefreshToken
// entities of the authorization engine, and the client authentication
// primitives every service in internal/engine authenticates against.
package oauth2

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"
)

// ClientType distinguishes clients that can hold a secret in confidence from
// those that cannot (native/browser apps).
type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

// Domain errors.
var (
	ErrClientNotFound      = errors.New("client not found")
	ErrClientAlreadyExists = errors.New("client already exists")
	ErrInvalidRedirectURI  = errors.New("invalid redirect uri")
)

// Client represents a registered software identity that requests tokens on
// behalf of an EndUser or itself. Secrets never appear in list responses
// (repository List/Get implementations must not populate ClientSecret for
// external callers outside of authentication paths).
type Client struct {
	ID           string
	Name         string
	PasswordHash string
	Website      string
	Type         ClientType
	ClientSecret string // hashed at rest; compared with constant time
	RedirectURIs []string
	ResourceID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// IsDeleted reports whether the client has been soft-deleted.
func (c *Client) IsDeleted() bool { return c.DeletedAt != nil }

// ValidateRedirectURI checks redirect_uri against the client's registered
// list by exact string equality (spec §3: "ordered list, exact-match").
// Invariant: this is called twice in an authorization transaction — once at
// /oidc/authorize, once again at /oidc/accept — since the redirect_uris set
// is frozen for the lifetime of that transaction but is re-read both times.
func (c *Client) ValidateRedirectURI(redirectURI string) bool {
	for _, uri := range c.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// AuthenticateBySecret compares a presented client_secret against the stored
// hash in constant time. The original source this spec was distilled from
// compares secrets with plain string equality; this engine deliberately
// diverges from that and compares hashes via subtle.ConstantTimeCompare,
// per spec §4.1 step 1 of accept_grant ("constant-time compare"). A public
// client with no stored secret is accepted without any comparison.
func (c *Client) AuthenticateBySecret(secret string) bool {
	if c.Type == ClientPublic && c.ClientSecret == "" {
		return true
	}
	want := hashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(want), []byte(c.ClientSecret)) == 1
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// HashClientSecret hashes a freshly generated client secret for storage.
func HashClientSecret(secret string) string {
	return hashSecret(secret)
}

// ClientRepository defines the interface for Client persistence. CRUD is an
// external collaborator (spec §1); the engine only reads clients by ID.
type ClientRepository interface {
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id string) (*Client, error)
	GetByName(ctx context.Context, name string) (*Client, error)
	Update(ctx context.Context, c *Client) error
	Delete(ctx context.Context, id string) error
	ListByResource(ctx context.Context, resourceID string) ([]*Client, error)
}
