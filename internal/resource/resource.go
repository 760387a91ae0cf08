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

// Package resource models the protected-API Resource entity: the owner of a
// scope namespace that Clients are bound to.
package resource

import (
	"strings"
	"time"
)

// Scope is a single named permission defined by a Resource.
type Scope struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Resource owns the universe of valid scopes for any Client that references
// it via Client.ResourceID.
type Resource struct {
	ID             string
	Name           string
	PasswordHash   string
	Website        string
	ResourceSecret string
	Scopes         []Scope
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// IsDeleted reports whether the resource has been soft-deleted.
func (r *Resource) IsDeleted() bool { return r.DeletedAt != nil }

// FilterScope splits a space-separated requested scope string and keeps only
// the names present in r.Scopes, preserving the order they were requested in.
// A scope string is valid iff some Scope.Name under this Resource equals it.
func (r *Resource) FilterScope(requested string) []string {
	if requested == "" {
		return nil
	}
	valid := make(map[string]bool, len(r.Scopes))
	for _, s := range r.Scopes {
		valid[s.Name] = true
	}
	var out []string
	for _, name := range strings.Fields(requested) {
		if valid[name] {
			out = append(out, name)
		}
	}
	return out
}

// HasScope reports whether name is one of the scopes this Resource defines.
func (r *Resource) HasScope(name string) bool {
	for _, s := range r.Scopes {
		if s.Name == name {
			return true
		}
	}
	return false
}
