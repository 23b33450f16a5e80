package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/pbxops/ns-registry/src/config"
	"github.com/pbxops/ns-registry/src/database"
	"github.com/pbxops/ns-registry/src/handlers"
	"github.com/pbxops/ns-registry/src/logging"
	"github.com/pbxops/ns-registry/src/middleware"
	"github.com/pbxops/ns-registry/src/nsapi"
	"github.com/pbxops/ns-registry/src/repositories"
	"github.com/pbxops/ns-registry/src/services"
)

func main() {
	// Load .env if present, then configuration
	_ = godotenv.Load()
	cfg := config.Load()

	// Initialize structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	log.Info().
		Int("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Msg("starting server")

	// Initialize database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.New(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	log.Info().Msg("database connected")

	// Token encryption at rest is mandatory
	encryptor, err := services.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize encryption")
	}
	log.Info().Msg("token encryption enabled (AES-256-GCM)")

	// Shared outbound rate limiter and PBX clients
	limiter := nsapi.NewLimiter(cfg.NSAPIMaxRequestsPerSecond)
	tokenClient, err := nsapi.NewTokenClient(cfg.NSAPIURL, cfg.NSClientID, cfg.NSClientSecret, limiter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize PBX token client")
	}

	clientConfig := nsapi.Config{
		APIURL:   cfg.NSAPIURL,
		Limiter:  limiter,
		PageSize: cfg.NSAPIPageSize,
		MaxItems: cfg.NSAPIMaxItems,
	}
	maintenanceClientConfig := clientConfig
	maintenanceClientConfig.HTTPClient = &http.Client{Timeout: 30 * time.Second}

	apiServer := nsapi.NormalizeServerURL(cfg.NSAPIURL)

	// Repositories
	subRepo := repositories.NewSubscriptionRepository(db.GetPool())
	credRepo := repositories.NewCredentialRepository(db.GetPool())
	auditRepo := repositories.NewAuditLogRepository(db.GetPool())

	// Services
	subscriptionService := services.NewSubscriptionService(subRepo, auditRepo, apiServer, cfg.SubscriptionDuration)
	credentialService := services.NewCredentialService(credRepo, encryptor, apiServer)
	maintenanceService := services.NewMaintenanceService(
		subRepo, credRepo, auditRepo, encryptor, tokenClient,
		func(accessToken string) (services.PBXClient, error) {
			return nsapi.NewClient(maintenanceClientConfig, accessToken)
		},
		services.MaintenanceConfig{
			StandardDuration: cfg.SubscriptionDuration,
			RenewalWindow:    cfg.SubscriptionRenewalWindow,
		},
	)

	scheduler := services.NewMaintenanceScheduler(maintenanceService, cfg.EnableMaintenance, cfg.MaintenanceInterval)
	scheduler.Start(context.Background())

	// Create Gin router
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	portalClientFactory := middleware.ClientFactory(func(token string) (middleware.PortalClient, error) {
		return nsapi.NewClient(clientConfig, token)
	})

	setupRoutes(router, db, subscriptionService, credentialService, tokenClient, portalClientFactory)

	// HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + formatPort(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR2)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	scheduler.Stop()

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server shut down successfully")
}

func corsConfig(allowedOrigins string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if allowedOrigins == "" {
		c.AllowOrigins = []string{"http://localhost", "http://localhost:8080"}
		return c
	}
	for _, origin := range strings.Split(allowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			c.AllowOrigins = append(c.AllowOrigins, origin)
		}
	}
	return c
}

func setupRoutes(
	router *gin.Engine,
	db *database.Database,
	subscriptionService *services.SubscriptionService,
	credentialService *services.CredentialService,
	tokenClient *nsapi.TokenClient,
	newClient middleware.ClientFactory,
) {
	healthHandler := handlers.NewHealthHandler(db)
	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionService)
	oauthHandler := handlers.NewOAuthHandler(tokenClient, credentialService, newClient)

	// Health check endpoints
	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/ready", healthHandler.HandleReady)
	router.GET("/info", healthHandler.HandleInfo)

	// OAuth redirect target is public; the PBX calls it
	router.GET("/receive-ns-redirect/", oauthHandler.HandleReceiveRedirect)

	// Portal endpoints authenticate with the caller's own PBX bearer token
	portal := router.Group("/")
	portal.Use(middleware.PortalAuthMiddleware(newClient))
	{
		portal.GET("/auth/check", oauthHandler.HandleAuthCheck)

		portal.POST("/subscriptions", subscriptionHandler.HandleCreate)
		portal.POST("/subscriptions/adopt", subscriptionHandler.HandleAdopt)
		portal.GET("/subscriptions/list", subscriptionHandler.HandleList)
		portal.GET("/subscriptions/status", subscriptionHandler.HandleStatus)
		portal.PUT("/subscriptions/:id", subscriptionHandler.HandleUpdate)
		portal.DELETE("/subscriptions/:id", subscriptionHandler.HandleDelete)

		portal.GET("/users/search", subscriptionHandler.HandleUserSearch)
	}
}

func formatPort(port int) string {
	return fmt.Sprintf("%d", port)
}
