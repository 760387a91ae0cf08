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

package resource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/opentrusty/opentrusty/internal/audit"
	"github.com/opentrusty/opentrusty/internal/id"
)

// Service provides Resource CRUD business logic. This is an external
// collaborator of the authorization engine (spec §1): the engine only reads
// resources by ID to filter scope.
type Service struct {
	repo        Repository
	auditLogger audit.Logger
}

// NewService creates a new Resource management service.
func NewService(repo Repository, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, auditLogger: auditLogger}
}

// CreateResource registers a new Resource with a system-generated secret.
func (s *Service) CreateResource(ctx context.Context, name, website string, scopes []Scope) (*Resource, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", ErrResourceAlreadyExists)
	}
	if website != "" && !govalidator.IsURL(website) {
		return nil, "", fmt.Errorf("invalid website URL")
	}

	if existing, err := s.repo.GetByName(ctx, name); err == nil && existing != nil {
		return nil, "", ErrResourceAlreadyExists
	}

	secret := id.NewOpaqueToken(32)
	now := time.Now()
	r := &Resource{
		ID:             id.NewUUIDv7(),
		Name:           name,
		Website:        website,
		ResourceSecret: secret,
		Scopes:         scopes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, r); err != nil {
		return nil, "", fmt.Errorf("failed to create resource: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeResourceCreated,
		ActorID:  audit.ActorSystemBootstrap,
		Resource: r.ID,
		Metadata: map[string]any{"name": name},
	})

	return r, secret, nil
}

// GetResource retrieves a Resource by ID.
func (s *Service) GetResource(ctx context.Context, id string) (*Resource, error) {
	return s.repo.GetByID(ctx, id)
}

// GetResourceByName retrieves a Resource by name.
func (s *Service) GetResourceByName(ctx context.Context, name string) (*Resource, error) {
	return s.repo.GetByName(ctx, name)
}

// ListResources lists resources with pagination.
func (s *Service) ListResources(ctx context.Context, limit, offset int) ([]*Resource, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateScopes replaces the scope universe a Resource exposes. Never shrinks
// any EndUser's already-accepted scopes retroactively: AcceptedClient records
// are untouched here (spec §9, accepted-client scope shrinking is out of
// scope for the engine and is an admin-edit concern).
func (s *Service) UpdateScopes(ctx context.Context, resourceID string, scopes []Scope) error {
	r, err := s.repo.GetByID(ctx, resourceID)
	if err != nil {
		return err
	}
	r.Scopes = scopes
	r.UpdatedAt = time.Now()
	return s.repo.Update(ctx, r)
}

// Delete soft-deletes a Resource.
func (s *Service) Delete(ctx context.Context, resourceID string) error {
	return s.repo.Delete(ctx, resourceID)
}
