package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fundilink/fundi-backend/internal/config"
	"github.com/fundilink/fundi-backend/internal/db"
	httpHandlers "github.com/fundilink/fundi-backend/internal/http/handlers"
	httpRouter "github.com/fundilink/fundi-backend/internal/http/router"
	"github.com/fundilink/fundi-backend/internal/logger"
	"github.com/fundilink/fundi-backend/internal/payments"
	"github.com/fundilink/fundi-backend/internal/repository"
	"github.com/fundilink/fundi-backend/internal/service"
	"github.com/fundilink/fundi-backend/internal/storage"
	"github.com/fundilink/fundi-backend/internal/ws"
)

// sandboxPlatformBalance funds the in-memory provider in development.
const sandboxPlatformBalance = 10_000_000

func main() {
	// Context for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: failed to load configuration: %v", err)
	}

	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	// Database and migrations.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: failed to connect to the database: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: migrations failed: %v", err)
	}

	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)

	photoStorage, err := storage.NewPhotoStorage(cfg.MediaStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: failed to prepare file storage: %v", err)
	}

	// Payment provider: real HTTP client when configured, sandbox otherwise.
	var provider payments.Provider
	if cfg.ProviderBaseURL != "" {
		provider = payments.NewRESTProvider(cfg.ProviderBaseURL, cfg.ProviderSecretKey)
	} else {
		log.Printf("main: PAYMENT_PROVIDER_BASE_URL not set, using the sandbox provider")
		provider = payments.NewSandboxProvider(sandboxPlatformBalance)
	}
	provider = payments.NewBreakerProvider(provider)
	recipients := payments.NewRecipientResolver(provider, cfg.RecipientCacheTTL)

	// Repositories.
	userRepo := repository.NewUserRepository(dbConn)
	jobRepo := repository.NewJobRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	webhookEventRepo := repository.NewWebhookEventRepository(dbConn)

	// Services.
	notificationService := service.NewNotificationService(notificationRepo)
	jobService := service.NewJobService(jobRepo, userRepo, provider, recipients, cfg.PlatformFeePercent, cfg.GatewayTimeout)
	jobService.SetNotifier(notificationService)
	webhookService := service.NewWebhookService(jobRepo, webhookEventRepo, cfg.WebhookSecret)
	webhookService.SetNotifier(notificationService)

	// WebSockets for live notification delivery.
	hub := ws.NewHub()
	go hub.Run()
	notificationService.SetPusher(hub)

	// HTTP handlers.
	jobHandler := httpHandlers.NewJobHandler(jobService)
	paymentHandler := httpHandlers.NewPaymentHandler(jobService, webhookService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	mediaHandler := httpHandlers.NewMediaHandler(photoStorage)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)

	engine := httpRouter.SetupRouter(cfg, jobHandler, paymentHandler, notificationHandler, mediaHandler, wsHandler, healthHandler, tokenManager)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Stop the server when a signal arrives.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: failed to stop the http server: %v", err)
		}
	}()

	log.Printf("main: HTTP server listening on port %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: server exited with error: %v", err)
	}
}

func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: failed to close the database: %v", err)
	}
}
