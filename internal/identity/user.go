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

// Package identity models the EndUser entity: the human the authorization
// engine authenticates and issues consent-bound tokens for.
package identity

import (
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("end user not found")
	ErrUserAlreadyExists  = errors.New("end user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
	ErrAccountLocked      = errors.New("account is locked")
)

// Profile carries the OIDC standard claims profile fields (spec §3 / the
// EndUserClaims projection used by the Userinfo Service).
type Profile struct {
	GivenName    string
	FamilyName   string
	MiddleName   string
	Nickname     string
	Profile      string
	Picture      string
	Website      string
	Gender       string
	Birthdate    string
	Zoneinfo     string
	Locale       string
	PhoneNumber  string
}

// AcceptedClient records a previously consented Client and the scope set the
// EndUser agreed to. Scopes for a given client_id are a monotonically
// growing set: the engine only ever unions into it, never shrinks it (spec
// §3 invariant).
type AcceptedClient struct {
	ClientID string
	Scope    []string
}

// HasScope reports whether target is in this AcceptedClient's scope set.
func (a AcceptedClient) HasScope(target string) bool {
	for _, s := range a.Scope {
		if s == target {
			return true
		}
	}
	return false
}

// Covers reports whether requested is a subset of a's accepted scope, i.e.
// whether consent can be skipped for this request (spec §4.1 step 9).
func (a AcceptedClient) Covers(requested []string) bool {
	for _, r := range requested {
		if !a.HasScope(r) {
			return false
		}
	}
	return true
}

// User represents an EndUser identity in the system.
type User struct {
	ID                  string
	Name                string // unique
	Email               string
	EmailVerified       bool
	PhoneNumberVerified bool
	Profile             Profile
	AcceptedClients     []AcceptedClient
	AuthenticatedAt      *time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

// IsDeleted reports whether the user has been soft-deleted.
func (u *User) IsDeleted() bool { return u.DeletedAt != nil }

// AcceptedClientFor returns the AcceptedClient record for clientID, if any.
func (u *User) AcceptedClientFor(clientID string) (AcceptedClient, bool) {
	for _, ac := range u.AcceptedClients {
		if ac.ClientID == clientID {
			return ac, true
		}
	}
	return AcceptedClient{}, false
}

// MergeAcceptedClient unions scope into the existing AcceptedClient record
// for clientID (creating one if absent). This is the engine's only mutation
// path onto accepted_clients, and it is idempotent under concurrent callers:
// re-applying the same union twice yields the same result (spec §5: "the
// engine MUST tolerate the race by idempotent merge").
func (u *User) MergeAcceptedClient(clientID string, scope []string) {
	for i, ac := range u.AcceptedClients {
		if ac.ClientID != clientID {
			continue
		}
		have := make(map[string]bool, len(ac.Scope))
		for _, s := range ac.Scope {
			have[s] = true
		}
		merged := append([]string{}, ac.Scope...)
		for _, s := range scope {
			if !have[s] {
				merged = append(merged, s)
				have[s] = true
			}
		}
		u.AcceptedClients[i].Scope = merged
		return
	}
	u.AcceptedClients = append(u.AcceptedClients, AcceptedClient{ClientID: clientID, Scope: append([]string{}, scope...)})
}

// Credentials represents user authentication credentials.
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// UserRepository defines the interface for EndUser persistence.
type UserRepository interface {
	Create(user *User) error
	AddCredentials(credentials *Credentials) error
	GetByID(id string) (*User, error)
	GetByName(name string) (*User, error)
	GetByEmail(email string) (*User, error)
	Update(user *User) error
	UpdateLockout(userID string, failedAttempts int, lockedUntil *time.Time) error
	Delete(id string) error
	GetCredentials(userID string) (*Credentials, error)
	UpdatePassword(userID string, passwordHash string) error

	// MergeAcceptedClient persists the idempotent set-union merge of
	// MergeAcceptedClient onto the stored user as a single read-modify-write
	// (spec §5: concurrent consents for the same (end_user, client) race
	// tolerantly; any lost update is recoverable on next consent).
	MergeAcceptedClient(userID, clientID string, scope []string) error

	// UpdateAuthenticatedAt stamps the moment the user last completed primary
	// authentication, surfaced as auth_time on IdToken claims.
	UpdateAuthenticatedAt(userID string, at time.Time) error
}
