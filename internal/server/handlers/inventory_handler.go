package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/server/middleware"
)

// InventoryService is the feed stock service used by the HTTP API.
type InventoryService interface {
	RecordUsage(ctx context.Context, ownerID string, movements []models.Movement, cropID *string) ([]models.FeedLedgerEntry, error)
	RecordRestock(ctx context.Context, ownerID string, movements []models.Movement, cropID *string) ([]models.FeedLedgerEntry, error)
	GetCurrentStock(ctx context.Context, ownerID string) ([]models.StockLevel, error)
	ListLedger(ctx context.Context, ownerID string, limit int) ([]models.FeedLedgerEntry, error)
	RecomputeStockFromLedger(ctx context.Context, ownerID string, repair bool) (models.ReconcileReport, error)
}

type movementRequest struct {
	Items  []models.Movement `json:"items" binding:"required,min=1,dive"`
	CropID *string           `json:"crop_id"`
}

// InventoryHandler serves the /api/feeds routes.
type InventoryHandler struct {
	svc    InventoryService
	logger *zap.Logger
}

// NewInventoryHandler constructs the inventory HTTP adapter.
func NewInventoryHandler(svc InventoryService, logger *zap.Logger) *InventoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryHandler{svc: svc, logger: logger}
}

// Stock returns the cached stock per feed type.
func (h *InventoryHandler) Stock(c *gin.Context) {
	levels, err := h.svc.GetCurrentStock(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": levels})
}

// Ledger returns the most recent ledger entries.
func (h *InventoryHandler) Ledger(c *gin.Context) {
	entries, err := h.svc.ListLedger(c.Request.Context(), middleware.OwnerID(c), queryLimit(c, 50, 500))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": entries})
}

// Usage records feed consumption.
func (h *InventoryHandler) Usage(c *gin.Context) {
	h.move(c, h.svc.RecordUsage)
}

// Restock records a feed delivery.
func (h *InventoryHandler) Restock(c *gin.Context) {
	h.move(c, h.svc.RecordRestock)
}

type movementFunc func(ctx context.Context, ownerID string, movements []models.Movement, cropID *string) ([]models.FeedLedgerEntry, error)

func (h *InventoryHandler) move(c *gin.Context, record movementFunc) {
	var req movementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	entries, err := record(c.Request.Context(), middleware.OwnerID(c), req.Items, req.CropID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"batch_id": entries[0].BatchID, "entries": entries})
}

// Reconcile compares cached stock with the ledger; ?repair=true fixes drift.
func (h *InventoryHandler) Reconcile(c *gin.Context) {
	repair, _ := strconv.ParseBool(c.Query("repair"))

	report, err := h.svc.RecomputeStockFromLedger(c.Request.Context(), middleware.OwnerID(c), repair)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
