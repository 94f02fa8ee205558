package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/server/middleware"
	"github.com/mamadbah2/farmledger/internal/service/crops"
)

// CropService is the crop lifecycle and daily log service.
type CropService interface {
	CreateCrop(ctx context.Context, ownerID string, in crops.CropIntake) (models.Crop, error)
	HarvestCrop(ctx context.Context, ownerID, cropID string, in crops.HarvestInput) (models.Crop, error)
	ArchiveCrop(ctx context.Context, ownerID, cropID string) (models.Crop, error)
	GetCrop(ctx context.Context, ownerID, cropID string) (models.Crop, error)
	ListCrops(ctx context.Context, ownerID string, status models.CropStatus) ([]models.Crop, error)
	RecordDailyLog(ctx context.Context, ownerID, cropID string, in crops.DailyEntry) (models.DailyLog, error)
	ListDailyLogs(ctx context.Context, ownerID, cropID string, limit int) ([]models.DailyLog, error)
}

// CropHandler serves the /api/crops routes.
type CropHandler struct {
	svc    CropService
	logger *zap.Logger
}

// NewCropHandler constructs the crop HTTP adapter.
func NewCropHandler(svc CropService, logger *zap.Logger) *CropHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CropHandler{svc: svc, logger: logger}
}

// List returns crops, optionally filtered with ?status=Active.
func (h *CropHandler) List(c *gin.Context) {
	list, err := h.svc.ListCrops(c.Request.Context(), middleware.OwnerID(c), models.CropStatus(c.Query("status")))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

// Create registers a crop intake.
func (h *CropHandler) Create(c *gin.Context) {
	var in crops.CropIntake
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	crop, err := h.svc.CreateCrop(c.Request.Context(), middleware.OwnerID(c), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, crop)
}

// Get returns one crop.
func (h *CropHandler) Get(c *gin.Context) {
	crop, err := h.svc.GetCrop(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, crop)
}

// Harvest closes an Active crop. The body is optional.
func (h *CropHandler) Harvest(c *gin.Context) {
	var in crops.HarvestInput
	if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}

	crop, err := h.svc.HarvestCrop(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, crop)
}

// Archive moves a Completed crop to Archived.
func (h *CropHandler) Archive(c *gin.Context) {
	crop, err := h.svc.ArchiveCrop(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, crop)
}

// DailyLogs lists the crop's daily logs.
func (h *CropHandler) DailyLogs(c *gin.Context) {
	logs, err := h.svc.ListDailyLogs(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), queryLimit(c, 30, 366))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": logs})
}

// RecordDailyLog merges an entry into today's log.
func (h *CropHandler) RecordDailyLog(c *gin.Context) {
	var in crops.DailyEntry
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	log, err := h.svc.RecordDailyLog(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, log)
}
