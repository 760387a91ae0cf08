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

// Package redis implements the session.Store contract on top of Redis
// hashes, one hash per session id.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/opentrusty/opentrusty/internal/session"
)

// Store implements session.Store against a single Redis instance.
type Store struct {
	client *goredis.Client
}

// Config holds the connection parameters for the session store.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New dials Redis and verifies connectivity with a PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Get(ctx context.Context, sessionID string, role session.Role) (string, error) {
	val, err := s.client.HGet(ctx, sessionID, string(role)).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", session.ErrSessionNotFound
		}
		return "", fmt.Errorf("failed to read session field: %w", err)
	}
	if val == "" {
		return "", session.ErrSessionNotFound
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, sessionID string, role session.Role, subjectID string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, sessionID, string(role), subjectID)
	pipe.Expire(ctx, sessionID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write session field: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionID).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
