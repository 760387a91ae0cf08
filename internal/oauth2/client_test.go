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

package oauth2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClient_ValidateRedirectURI(t *testing.T) {
	c := &Client{RedirectURIs: []string{"https://app.example.com/callback", "https://app.example.com/callback2"}}

	assert.True(t, c.ValidateRedirectURI("https://app.example.com/callback"))
	assert.False(t, c.ValidateRedirectURI("https://app.example.com/callback/"))
	assert.False(t, c.ValidateRedirectURI("https://evil.example.com/callback"))
	assert.False(t, c.ValidateRedirectURI(""))
}

// TestPurpose: Validates that confidential client secret comparison accepts
// only the correct secret and rejects every variant, including near-misses.
// Scope: Unit Test
// Security: Client authentication (RFC 6749 §2.3.1)
// Expected: AuthenticateBySecret returns true only for the exact secret a
// confidential client was registered with.
func TestClient_AuthenticateBySecret_Confidential(t *testing.T) {
	c := &Client{Type: ClientConfidential, ClientSecret: HashClientSecret("s3cr3t")}

	assert.True(t, c.AuthenticateBySecret("s3cr3t"))
	assert.False(t, c.AuthenticateBySecret("wrong"))
	assert.False(t, c.AuthenticateBySecret(""))
	assert.False(t, c.AuthenticateBySecret("s3cr3"))
}

func TestClient_AuthenticateBySecret_Public(t *testing.T) {
	c := &Client{Type: ClientPublic}

	assert.True(t, c.AuthenticateBySecret(""))
	assert.True(t, c.AuthenticateBySecret("anything"), "public clients hold no secret to check")
}

func TestClient_IsDeleted(t *testing.T) {
	c := &Client{}
	assert.False(t, c.IsDeleted())

	now := time.Now()
	c.DeletedAt = &now
	assert.True(t, c.IsDeleted())
}
