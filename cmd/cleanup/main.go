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

// Command cleanup runs the background janitor as a standalone process on a
// cron schedule, for deployments that run it apart from cmd/server's own
// in-process ticker. It only ever soft-deletes rows already past expiry (sets
// deleted_at); it does not remove rows from the tables. It never touches the
// CAS-guarded single-use redemption path.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opentrusty/opentrusty/internal/config"
	"github.com/opentrusty/opentrusty/internal/observability/logger"
	"github.com/opentrusty/opentrusty/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	grantRepo := postgres.NewGrantRepository(db)
	accessTokenRepo := postgres.NewAccessTokenRepository(db)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(db)
	idTokenRepo := postgres.NewIdTokenRepository(db)

	sweep := func() {
		cutoff := time.Now()
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := grantRepo.DeleteExpired(sweepCtx, cutoff); err != nil {
			slog.Error("failed to clean up expired grants", logger.Error(err))
		}
		if err := accessTokenRepo.DeleteExpired(sweepCtx, cutoff); err != nil {
			slog.Error("failed to clean up expired access tokens", logger.Error(err))
		}
		if err := refreshTokenRepo.DeleteExpired(sweepCtx, cutoff); err != nil {
			slog.Error("failed to clean up expired refresh tokens", logger.Error(err))
		}
		if err := idTokenRepo.DeleteExpired(sweepCtx, cutoff); err != nil {
			slog.Error("failed to clean up expired id tokens", logger.Error(err))
		}
		slog.Info("cleanup sweep complete")
	}

	c := cron.New()
	if _, err := c.AddFunc("@every 1h", sweep); err != nil {
		slog.Error("failed to schedule cleanup job", logger.Error(err))
		os.Exit(1)
	}
	c.Start()
	slog.Info("cleanup janitor started", logger.Component("cleanup"))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopCtx := c.Stop()
	<-stopCtx.Done()
	slog.Info("cleanup janitor stopped")
}
