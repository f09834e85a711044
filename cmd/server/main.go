// Copyright 2026 The Stackhive Authors
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

	"github.com/stackhive/stackhive/internal/account"
	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/billing"
	"github.com/stackhive/stackhive/internal/config"
	"github.com/stackhive/stackhive/internal/entitlement"
	"github.com/stackhive/stackhive/internal/identity"
	"github.com/stackhive/stackhive/internal/instance"
	"github.com/stackhive/stackhive/internal/observability/logger"
	"github.com/stackhive/stackhive/internal/observability/metrics"
	"github.com/stackhive/stackhive/internal/observability/tracing"
	"github.com/stackhive/stackhive/internal/provision"
	"github.com/stackhive/stackhive/internal/store/postgres"
	transportHTTP "github.com/stackhive/stackhive/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting stackhive orchestrator")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("Bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Initialize context
	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		os.Exit(1)
	}
	instruments, err := meter.NewInstruments()
	if err != nil {
		slog.Error("failed to create instruments", logger.Error(err))
		os.Exit(1)
	}

	// Initialize database
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

	// Initialize repositories
	userRepo := postgres.NewUserRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	planRepo := postgres.NewPlanRepository(db)
	subscriptionRepo := postgres.NewSubscriptionRepository(db)
	registry := postgres.NewInstanceRepository(db, cfg.Provision.PortRangeFrom, cfg.Provision.PortRangeTo)
	deployLogRepo := postgres.NewDeployLogRepository(db)

	// Initialize helpers
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	tokenService := identity.NewTokenService(
		cfg.Auth.JWTSecret,
		cfg.Auth.Issuer,
		cfg.Auth.AccessTTL,
		cfg.Auth.RefreshTTL,
	)

	// Initialize services
	identityService := identity.NewService(userRepo, passwordHasher, auditLogger)
	accountService := account.NewService(accountRepo, auditLogger)
	billingService := billing.NewService(planRepo, subscriptionRepo, auditLogger)
	evaluator := entitlement.NewEvaluator(subscriptionRepo, planRepo)

	executor := provision.NewScriptExecutor(cfg.Provision.ScriptDir)
	locks := instance.NewLockTable()
	instanceService := instance.NewService(
		registry,
		deployLogRepo,
		locks,
		executor,
		evaluator,
		auditLogger,
		cfg.Provision.ExecTimeout,
	)

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		identityService,
		accountService,
		billingService,
		instanceService,
		tokenService,
		auditLogger,
		instruments,
	)

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start reconciliation sweeper
	if cfg.Sweeper.Enabled {
		sweeper := instance.NewSweeper(registry, locks, executor, auditLogger, cfg.Sweeper.QueryTimeout)
		go func() {
			ticker := time.NewTicker(cfg.Sweeper.Interval)
			defer ticker.Stop()
			for range ticker.C {
				corrected, err := sweeper.Sweep(ctx)
				if err != nil {
					slog.ErrorContext(ctx, "sweep pass failed", logger.Error(err))
					continue
				}
				if corrected > 0 {
					instruments.DriftCorrected.Add(ctx, int64(corrected))
				}
			}
		}()
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}

// runBootstrap creates the staff user named by BOOTSTRAP_STAFF_EMAIL and
// BOOTSTRAP_STAFF_PASSWORD if it does not exist yet.
func runBootstrap(cfg *config.Config) error {
	email := os.Getenv("BOOTSTRAP_STAFF_EMAIL")
	password := os.Getenv("BOOTSTRAP_STAFF_PASSWORD")
	if email == "" || password == "" {
		return fmt.Errorf("BOOTSTRAP_STAFF_EMAIL and BOOTSTRAP_STAFF_PASSWORD are required")
	}

	ctx := context.Background()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	userRepo := postgres.NewUserRepository(db)
	auditLogger := audit.NewSlogLogger()
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	identityService := identity.NewService(userRepo, passwordHasher, auditLogger)

	user, err := identityService.CreateUser(ctx, email, password, true)
	if err != nil {
		if err == identity.ErrUserAlreadyExists {
			fmt.Println("Staff user already exists.")
			return nil
		}
		return err
	}

	fmt.Printf("Staff user created: %s\n", user.ID)
	return nil
}

func connect(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}
