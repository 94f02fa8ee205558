package router

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/server/handlers"
	"github.com/mamadbah2/farmledger/internal/server/middleware"
	"github.com/mamadbah2/farmledger/pkg/clients/auth"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups the HTTP adapters mounted by New. Webhook may be nil when
// the WhatsApp channel is disabled.
type Handlers struct {
	Inventory    *handlers.InventoryHandler
	Crops        *handlers.CropHandler
	Vaccinations *handlers.VaccinationHandler
	Accounts     *handlers.AccountHandler
	Webhook      *handlers.WebhookHandler
}

// New wires the Gin engine with required routes and middlewares.
func New(h Handlers, verifier auth.Verifier, health Pinger, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		if health != nil {
			if err := health.Ping(c.Request.Context()); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if h.Webhook != nil {
		r.GET("/webhook", h.Webhook.Verify)
		r.POST("/webhook", h.Webhook.Receive)
	}

	api := r.Group("/api", middleware.RequireUser(verifier, logger))

	api.GET("/dashboard", h.Accounts.Dashboard)
	api.GET("/profile", h.Accounts.Profile)
	api.PUT("/profile", h.Accounts.UpdateProfile)

	feed := api.Group("/feeds")
	feed.GET("/stock", h.Inventory.Stock)
	feed.GET("/ledger", h.Inventory.Ledger)
	feed.POST("/usage", h.Inventory.Usage)
	feed.POST("/restock", h.Inventory.Restock)
	feed.POST("/reconcile", h.Inventory.Reconcile)

	crops := api.Group("/crops")
	crops.GET("", h.Crops.List)
	crops.POST("", h.Crops.Create)
	crops.GET("/:id", h.Crops.Get)
	crops.POST("/:id/harvest", h.Crops.Harvest)
	crops.POST("/:id/archive", h.Crops.Archive)
	crops.GET("/:id/daily-logs", h.Crops.DailyLogs)
	crops.POST("/:id/daily-logs", h.Crops.RecordDailyLog)

	vaccinations := api.Group("/vaccinations")
	vaccinations.GET("", h.Vaccinations.List)
	vaccinations.POST("", h.Vaccinations.Schedule)
	vaccinations.POST("/:id/administer", h.Vaccinations.Administer)
	vaccinations.DELETE("/:id", h.Vaccinations.Delete)

	logger.Info("router initialized", zap.Bool("webhook", h.Webhook != nil))

	return r
}
