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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/opentrusty/internal/audit"
	"github.com/opentrusty/opentrusty/internal/config"
	"github.com/opentrusty/opentrusty/internal/engine"
	"github.com/opentrusty/opentrusty/internal/id"
	"github.com/opentrusty/opentrusty/internal/identity"
	"github.com/opentrusty/opentrusty/internal/oauth2"
	"github.com/opentrusty/opentrusty/internal/observability/logger"
	"github.com/opentrusty/opentrusty/internal/observability/metrics"
	"github.com/opentrusty/opentrusty/internal/observability/tracing"
	"github.com/opentrusty/opentrusty/internal/oidc"
	"github.com/opentrusty/opentrusty/internal/resource"
	sessionredis "github.com/opentrusty/opentrusty/internal/session/redis"
	"github.com/opentrusty/opentrusty/internal/store/postgres"
	transportHTTP "github.com/opentrusty/opentrusty/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting opentrusty authorization server")

	ctx := context.Background()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		os.Exit(1)
	}
	defer tracer.Shutdown(ctx)

	if _, err := metrics.New(ctx, metrics.Config{Enabled: cfg.Observability.OTELEnabled}, cfg.Observability.ServiceName); err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		os.Exit(1)
	}

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
	slog.Info("connected to database")

	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		slog.Error("failed to apply schema migrations", logger.Error(err))
		os.Exit(1)
	}

	sessions, err := sessionredis.New(ctx, sessionredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Error("failed to connect to redis", logger.Error(err))
		os.Exit(1)
	}
	defer sessions.Close()
	slog.Info("connected to redis session store")

	clientRepo := postgres.NewClientRepository(db)
	resourceRepo := postgres.NewResourceRepository(db)
	grantRepo := postgres.NewGrantRepository(db)
	accessTokenRepo := postgres.NewAccessTokenRepository(db)
	refreshTokenRepo := postgres.NewRefreshTokenRepository(db)
	idTokenRepo := postgres.NewIdTokenRepository(db)
	endUserRepo := postgres.NewEndUserRepository(db)
	keyRepo := postgres.NewKeyRepository(db)

	auditLogger := audit.NewSlogLogger()

	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)

	identityService := identity.NewService(
		endUserRepo,
		passwordHasher,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
	)

	keyService, err := oidc.NewKeyService(ctx, keyRepo, []byte(cfg.OIDC.KeyEncryptionKey))
	if err != nil {
		slog.Error("failed to initialize signing key", logger.Error(err))
		os.Exit(1)
	}

	grantTTL := time.Duration(cfg.OIDC.GrantMaxAgeSec) * time.Second
	accessTokenTTL := time.Duration(cfg.OIDC.AccessTokenMaxAgeSec) * time.Second
	idTokenTTL := time.Duration(cfg.OIDC.IDTokenMaxAgeSec) * time.Second
	refreshTokenTTL := time.Duration(cfg.OIDC.RefreshTokenMaxAgeSec) * time.Second

	authorizeService := engine.NewAuthorizeService(
		clientRepo, resourceRepo, grantRepo, accessTokenRepo, refreshTokenRepo, idTokenRepo,
		identityService, keyService, auditLogger, cfg.OIDC.Issuer,
		grantTTL, accessTokenTTL, idTokenTTL, refreshTokenTTL,
	)
	refreshService := engine.NewRefreshService(
		clientRepo, refreshTokenRepo, accessTokenRepo, idTokenRepo, keyService, auditLogger,
		cfg.OIDC.Issuer, idTokenTTL,
	)
	clientCredentialsService := engine.NewClientCredentialsService(clientRepo, resourceRepo, accessTokenRepo, auditLogger)
	ropcService := engine.NewROPCService(clientRepo, resourceRepo, accessTokenRepo, identityService, auditLogger)
	dispatcher := &engine.Dispatcher{
		Authorize:         authorizeService,
		Refresh:           refreshService,
		ClientCredentials: clientCredentialsService,
		ROPC:              ropcService,
		AccessTokenTTL:    accessTokenTTL,
	}
	introspectService := engine.NewIntrospectService(clientRepo, accessTokenRepo, endUserRepo, resourceRepo, cfg.OIDC.Issuer)
	userinfoService := engine.NewUserinfoService(accessTokenRepo, endUserRepo, cfg.OIDC.Issuer)

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	handler := transportHTTP.NewHandler(
		authorizeService, dispatcher, introspectService, userinfoService,
		keyService, identityService, sessions, auditLogger,
		time.Duration(cfg.Redis.ExpiresSec)*time.Second,
	)
	router := transportHTTP.NewRouter(handler, rateLimiter)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	stopCleanup := make(chan struct{})
	go runCleanup(cfg.OIDC.CleanupInterval, grantRepo, accessTokenRepo, refreshTokenRepo, idTokenRepo, stopCleanup)

	go func() {
		slog.Info("listening", logger.Component("server"), logger.Operation("listen"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	close(stopCleanup)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

// runCleanup periodically soft-deletes expired grants and tokens (sets
// deleted_at), supplementing the protocol's lazy expiry checks (IsValid/CAS).
// Rows are not removed from the tables.
func runCleanup(
	interval time.Duration,
	grants interface {
		DeleteExpired(ctx context.Context, olderThan time.Time) error
	},
	accessTokens interface {
		DeleteExpired(ctx context.Context, olderThan time.Time) error
	},
	refreshTokens interface {
		DeleteExpired(ctx context.Context, olderThan time.Time) error
	},
	idTokens interface {
		DeleteExpired(ctx context.Context, olderThan time.Time) error
	},
	stop <-chan struct{},
) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			cutoff := time.Now()
			if err := grants.DeleteExpired(ctx, cutoff); err != nil {
				slog.Error("failed to clean up expired grants", logger.Error(err))
			}
			if err := accessTokens.DeleteExpired(ctx, cutoff); err != nil {
				slog.Error("failed to clean up expired access tokens", logger.Error(err))
			}
			if err := refreshTokens.DeleteExpired(ctx, cutoff); err != nil {
				slog.Error("failed to clean up expired refresh tokens", logger.Error(err))
			}
			if err := idTokens.DeleteExpired(ctx, cutoff); err != nil {
				slog.Error("failed to clean up expired id tokens", logger.Error(err))
			}
			cancel()
		}
	}
}

// runBootstrap seeds a single Resource and a single confidential Client for
// local development.
func runBootstrap(cfg *config.Config) error {
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
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return fmt.Errorf("failed to apply schema migrations: %w", err)
	}

	auditLogger := audit.NewSlogLogger()
	resourceRepo := postgres.NewResourceRepository(db)
	clientRepo := postgres.NewClientRepository(db)
	resourceSvc := resource.NewService(resourceRepo, auditLogger)

	r, resourceSecret, err := resourceSvc.CreateResource(ctx, "default", "", []resource.Scope{
		{Name: "openid", Description: "authenticate as the end user"},
		{Name: "profile", Description: "read profile claims"},
		{Name: "email", Description: "read email claims"},
	})
	if err != nil {
		return fmt.Errorf("failed to create default resource: %w", err)
	}

	clientSecret := id.NewOpaqueToken(32)
	client := &oauth2.Client{
		ID:           id.NewUUIDv7(),
		Name:         "default",
		Type:         oauth2.ClientConfidential,
		ClientSecret: oauth2.HashClientSecret(clientSecret),
		RedirectURIs: []string{"http://localhost:8080/callback"},
		ResourceID:   r.ID,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := clientRepo.Create(ctx, client); err != nil {
		return fmt.Errorf("failed to create default client: %w", err)
	}
	auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeClientCreated,
		ActorID:  audit.ActorSystemBootstrap,
		Resource: audit.ResourceClient,
		Metadata: map[string]any{"client_id": client.ID},
	})

	fmt.Println("bootstrap complete")
	fmt.Printf("resource_id=%s resource_secret=%s\n", r.ID, resourceSecret)
	fmt.Printf("client_id=%s client_secret=%s\n", client.ID, clientSecret)
	return nil
}
