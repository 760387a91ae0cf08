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

// Package session defines the session-store contract used by the
// transport layer to resolve a bearer session id into a subject id.
//
// A session id is not scoped to one kind of caller: the same id can
// carry an admin subject, a client subject, an end-user subject and a
// resource subject at once, each in its own hash field. This lets a
// single login cookie/bearer value answer "who is the end user here"
// on /oidc/authorize and "who is the admin here" on an administrative
// endpoint without separate stores.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session id (or one of its role
// fields) has no value in the store, whether because it never existed
// or because its TTL expired.
var ErrSessionNotFound = errors.New("session not found")

// Role identifies which hash field of a session a subject id is stored
// under.
type Role string

const (
	RoleAdmin    Role = "admin_sess_id"
	RoleClient   Role = "client_sess_id"
	RoleEndUser  Role = "end_user_sess_id"
	RoleResource Role = "resource_sess_id"
)

// Store is the session-store contract: a keyed hash of session id to
// role-field to subject id, with a TTL refreshed on every write.
type Store interface {
	// Get resolves sessionID's Role field to a subject id. Returns
	// ErrSessionNotFound if the session or the field is absent.
	Get(ctx context.Context, sessionID string, role Role) (string, error)

	// Set writes subjectID under sessionID's Role field and resets the
	// session's TTL.
	Set(ctx context.Context, sessionID string, role Role, subjectID string, ttl time.Duration) error

	// Delete removes the entire session hash.
	Delete(ctx context.Context, sessionID string) error
}
