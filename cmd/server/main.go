package main

import (
	"context" // context package is needed for Redis operations

	"budget_system/internal/api"        // Custom package for API handlers
	"budget_system/internal/config"     // Custom package for configuration
	"budget_system/internal/db"         // Store connection and schema
	"budget_system/internal/service"    // Business components
	"budget_system/internal/transcribe" // Speech-to-text client
	"budget_system/internal/utils"      // Cache implementations

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// setupLogger applies the configured format and level
func setupLogger(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Warnf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// setupCache connects to Redis when configured and falls back to process memory
func setupCache(cfg *config.Config) utils.Cache {
	if cfg.RedisAddr == "" {
		logrus.Info("REDIS_ADDR not set, using in-memory profile cache")
	}
	cache, err := utils.OpenCache(context.Background(), cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err) // Test Redis connection
	}
	return cache
}

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration
	setupLogger(cfg)

	if cfg.JWTSecret == "" {
		logrus.Fatal("JWT_SECRET must be set")
	}

	gdb, err := db.Open(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}
	if err := db.Migrate(gdb); err != nil {
		logrus.Fatalf("migration failed: %v", err)
	}

	cache := setupCache(cfg)
	engine := transcribe.NewClient(cfg.TranscriberURL, cfg.TranscriberModel, cfg.MaxAudioBytes())
	if !engine.Configured() {
		logrus.Warn("TRANSCRIBER_URL not set, transcription endpoints will answer 503")
	}

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	access := service.NewAccess(gdb)
	r := api.SetupRouter(cfg, api.Deps{
		DB:           gdb,
		Cache:        cache,
		Users:        service.NewUserService(gdb, cache, cfg.CacheTTL),
		Budgets:      service.NewBudgetService(gdb, access),
		Transactions: service.NewTransactionService(gdb),
		Recurring:    service.NewRecurringService(gdb),
		Sync:         service.NewSyncService(gdb),
		Transcriber:  engine,
	})

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	logrus.WithFields(logrus.Fields{"port": cfg.AppPort, "db_driver": cfg.DBDriver}).Info("Server starting")
	if err := r.Run(":" + cfg.AppPort); err != nil { // Start the server on port cfg.AppPort
		logrus.Fatalf("server stopped: %v", err)
	}
}
