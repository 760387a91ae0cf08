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
	"context"
	"errors"
	"strings"
	"time"
)

// GrantStatus is the state of an in-progress authorization, per the state
// machine in spec §3/§4.1:
//
//	Created --accept/skip-consent--> Activated --redeem-code--> Expired
//
// No transition other than Created->Activated and Activated->Expired is
// valid; both MUST be enforced as atomic compare-and-swap operations at the
// persistence layer so that concurrent redemptions of the same code cannot
// both succeed.
type GrantStatus string

const (
	GrantCreated   GrantStatus = "created"
	GrantActivated GrantStatus = "activated"
	GrantExpired   GrantStatus = "expired"
)

// ResponseType is the parsed, validated set of response_type values requested
// at /oidc/authorize.
type ResponseType struct {
	Code    bool
	Token   bool
	IDToken bool
}

// FlowType classifies a ResponseType per spec §4.1 step 5.
type FlowType int

const (
	FlowUndefined FlowType = iota
	FlowAuthorizationCode
	FlowImplicit
	FlowHybrid
)

var ErrUndefinedFlow = errors.New("response_type does not select a defined flow")

// ParseResponseType splits a space-separated response_type string into a
// ResponseType set. Unknown tokens are ignored; callers detect an empty/
// invalid result via FlowType() returning FlowUndefined.
func ParseResponseType(s string) ResponseType {
	var rt ResponseType
	for _, tok := range strings.Fields(s) {
		switch tok {
		case "code":
			rt.Code = true
		case "token":
			rt.Token = true
		case "id_token":
			rt.IDToken = true
		}
	}
	return rt
}

// FlowType derives the flow classification from the response_type set, per
// spec §4.1 step 5:
//
//	has(code) ∧ (has(token) ∨ has(id_token)) -> Hybrid
//	¬has(code) ∧ (has(token) ∨ has(id_token)) -> Implicit
//	has(code) only                             -> AuthorizationCode
//	otherwise                                   -> Undefined
func (rt ResponseType) FlowType() FlowType {
	hasTokenLike := rt.Token || rt.IDToken
	switch {
	case rt.Code && hasTokenLike:
		return FlowHybrid
	case !rt.Code && hasTokenLike:
		return FlowImplicit
	case rt.Code:
		return FlowAuthorizationCode
	default:
		return FlowUndefined
	}
}

// String reconstitutes the canonical space-separated response_type string,
// in code/token/id_token order, as persisted on the Grant.
func (rt ResponseType) String() string {
	var parts []string
	if rt.Code {
		parts = append(parts, "code")
	}
	if rt.Token {
		parts = append(parts, "token")
	}
	if rt.IDToken {
		parts = append(parts, "id_token")
	}
	return strings.Join(parts, " ")
}

// Grant is the server-side artifact representing an in-progress
// authorization; it carries a one-time code (spec §3).
type Grant struct {
	ID            string
	EndUserID     string
	ClientID      string
	ResourceID    string
	RedirectURI   string // snapshot at creation time
	Code          string // opaque, 64 chars
	ResponseType  ResponseType
	Scope         []string
	State         string
	Nonce         string
	CreatedAt     time.Time
	ExpiresInSec  int
	Status        GrantStatus
	DeletedAt     *time.Time
}

// IsValid reports whether the grant is still usable: not expired and not in
// the terminal Expired status (spec §3: "valid iff now - created_at <=
// expires_in_sec AND status != Expired").
func (g *Grant) IsValid() bool {
	if g.Status == GrantExpired {
		return false
	}
	return time.Since(g.CreatedAt) <= time.Duration(g.ExpiresInSec)*time.Second
}

// HasScope reports whether target is present in the grant's filtered scope.
func (g *Grant) HasScope(target string) bool {
	for _, s := range g.Scope {
		if s == target {
			return true
		}
	}
	return false
}

var (
	ErrGrantNotFound    = errors.New("grant not found")
	ErrGrantAlreadyUsed = errors.New("grant already used")
)

// GrantRepository defines Grant persistence, including the two
// compare-and-swap transitions the single-use invariant depends on (spec §9:
// "require the persistence adapter to expose a conditional update").
type GrantRepository interface {
	Create(ctx context.Context, g *Grant) error
	GetByID(ctx context.Context, id string) (*Grant, error)
	GetByCode(ctx context.Context, code string) (*Grant, error)

	// FindByIDAndChangeStatus atomically transitions the grant identified by
	// id from Created to Activated, returning the updated row. If the row is
	// not currently in Created status (already activated/expired, or
	// missing), it returns ErrGrantAlreadyUsed / ErrGrantNotFound and leaves
	// the row untouched.
	FindByIDAndChangeStatus(ctx context.Context, id string, from, to GrantStatus) (*Grant, error)

	// FindByCodeAndChangeStatus atomically transitions the grant matching
	// code from Activated to Expired, returning the PRIOR row (as it was
	// before the transition) so the caller can inspect end_user_id/scope/
	// response_type for token issuance. Exactly one concurrent caller wins.
	FindByCodeAndChangeStatus(ctx context.Context, code string, from, to GrantStatus) (*Grant, error)

	DeleteExpired(ctx context.Context, olderThan time.Time) error
}
