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

// Package id centralizes opaque identifier generation so every entity in the
// domain model is keyed the same way.
package id

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// NewUUIDv7 returns a time-sortable UUIDv7 string, used for entity primary keys
// (Client.id, Resource.id, Grant.id, AccessToken.id, ...).
func NewUUIDv7() string {
	u, err := uuid.NewV7()
	if err != nil {
		// crypto/rand failure; fall back to a random v4 rather than panic.
		return uuid.NewString()
	}
	return u.String()
}

// NewOpaqueToken returns a base64url-encoded random string of n raw bytes, used
// for bearer secrets (authorization codes, access/refresh tokens, client
// secrets) that must not be guessable.
func NewOpaqueToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("id: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewCode64 returns a 64-character opaque string suitable for Grant.code,
// AccessToken.token and RefreshToken.token per the data model's length
// invariant: 48 random bytes base64url-encode to exactly 64 characters.
func NewCode64() string {
	return NewOpaqueToken(48)
}
