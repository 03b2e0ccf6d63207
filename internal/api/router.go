package api

import (
	"context"  // Health probes
	"net/http" // HTTP status codes
	"time"     // Probe timeout

	"budget_system/internal/config"     // Custom package for configuration
	"budget_system/internal/middleware" // Custom package for middleware
	"budget_system/internal/service"    // Business components
	"budget_system/internal/utils"      // Cache

	"github.com/gin-gonic/gin" // Gin web framework
	"gorm.io/gorm"             // GORM ORM library
)

// Deps bundles what the handlers need
type Deps struct {
	DB           *gorm.DB
	Cache        utils.Cache
	Users        *service.UserService
	Budgets      *service.BudgetService
	Transactions *service.TransactionService
	Recurring    *service.RecurringService
	Sync         *service.SyncService
	Transcriber  Transcriber
}

// HealthHandler pings the store and the cache
func HealthHandler(db *gorm.DB, cache utils.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, dbState, cacheState := http.StatusOK, "ok", "ok"
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status, dbState = http.StatusServiceUnavailable, "unreachable"
		}
		if err := cache.Ping(ctx); err != nil {
			status, cacheState = http.StatusServiceUnavailable, "unreachable"
		}
		overall := "healthy"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{"status": overall, "database": dbState, "cache": cacheState})
	}
}

// SetupRouter wires every route onto a new gin engine
func SetupRouter(cfg *config.Config, d Deps) *gin.Engine {
	RegisterValidators()

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	r.MaxMultipartMemory = cfg.MaxAudioBytes() + 1<<20 // Room for the form fields

	tokens := TokenSettings{Secret: cfg.JWTSecret, TTL: cfg.JWTTTL}
	transcription := TranscriptionSettings{
		Model:       cfg.TranscriberModel,
		MaxDuration: time.Duration(cfg.MaxAudioSeconds) * time.Second,
		MaxBytes:    cfg.MaxAudioBytes(),
		Language:    cfg.TranscriptionLanguage,
	}
	defPage, maxPage := cfg.DefaultPageSize, cfg.MaxPageSize

	r.GET("/health", HealthHandler(d.DB, d.Cache))

	// Auth routes
	r.POST("/auth/register", RegisterHandler(d.Users, tokens)) // Registration endpoint
	r.POST("/auth/login", LoginHandler(d.Users, tokens))       // Login endpoint

	// Everything else needs a valid token for an active account
	authed := r.Group("")
	authed.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret), middleware.ActiveUserMiddleware(d.DB))

	users := authed.Group("/users")
	users.GET("/me", MeHandler(d.Users))
	users.PUT("/me", UpdateMeHandler(d.Users))
	users.DELETE("/me", DeleteMeHandler(d.Users))
	users.GET("/search", SearchUsersHandler(d.Users, defPage, maxPage))

	budgets := authed.Group("/budgets")
	budgets.POST("", CreateBudgetHandler(d.Budgets))
	budgets.GET("", ListBudgetsHandler(d.Budgets, defPage, maxPage))
	budgets.GET("/:id", GetBudgetHandler(d.Budgets))
	budgets.PUT("/:id", UpdateBudgetHandler(d.Budgets))
	budgets.POST("/:id/archive", ArchiveBudgetHandler(d.Budgets))
	budgets.DELETE("/:id", DeleteBudgetHandler(d.Budgets))
	budgets.GET("/:id/members", MembersHandler(d.Budgets))
	budgets.POST("/:id/members", AddMemberHandler(d.Budgets))
	budgets.PUT("/:id/members/:user_id", UpdateMemberHandler(d.Budgets))
	budgets.DELETE("/:id/members/:user_id", RemoveMemberHandler(d.Budgets))

	txs := authed.Group("/transactions")
	txs.POST("", CreateTransactionHandler(d.Transactions))
	txs.GET("", ListTransactionsHandler(d.Transactions, defPage, maxPage))
	txs.GET("/:id", GetTransactionHandler(d.Transactions))
	txs.PUT("/:id", UpdateTransactionHandler(d.Transactions))
	txs.DELETE("/:id", DeleteTransactionHandler(d.Transactions))

	recurring := authed.Group("/recurring-transactions")
	recurring.POST("", CreateRecurringHandler(d.Recurring))
	recurring.GET("", ListRecurringHandler(d.Recurring))
	recurring.GET("/:id", GetRecurringHandler(d.Recurring))
	recurring.PUT("/:id", UpdateRecurringHandler(d.Recurring))
	recurring.DELETE("/:id", DeleteRecurringHandler(d.Recurring))

	sync := authed.Group("/sync")
	sync.POST("/push", PushHandler(d.Sync))
	sync.GET("/pull", PullHandler(d.Sync))
	sync.GET("/conflicts", ConflictsHandler(d.Sync))
	sync.POST("/conflicts/resolve", ResolveHandler(d.Sync))
	sync.GET("/status", SyncStatusHandler(d.Sync))

	speech := authed.Group("/transcription")
	speech.POST("/transcribe", TranscribeHandler(d.Transcriber, transcription))
	speech.GET("/supported-formats", SupportedFormatsHandler())
	speech.GET("/service-status", TranscriptionStatusHandler(d.Transcriber, transcription))

	return r
}
