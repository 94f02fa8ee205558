package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/server/middleware"
	"github.com/mamadbah2/farmledger/internal/service/vaccinations"
)

// VaccinationService schedules and tracks vaccinations.
type VaccinationService interface {
	Schedule(ctx context.Context, ownerID string, in vaccinations.ScheduleInput) (models.Vaccination, error)
	Administer(ctx context.Context, ownerID, id string, at *time.Time) (models.Vaccination, error)
	Delete(ctx context.Context, ownerID, id string) error
	List(ctx context.Context, ownerID string, status models.VaccinationStatus) ([]models.Vaccination, error)
}

// VaccinationHandler serves the /api/vaccinations routes.
type VaccinationHandler struct {
	svc    VaccinationService
	logger *zap.Logger
}

// NewVaccinationHandler constructs the vaccination HTTP adapter.
func NewVaccinationHandler(svc VaccinationService, logger *zap.Logger) *VaccinationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VaccinationHandler{svc: svc, logger: logger}
}

// List returns vaccinations, optionally filtered with ?status=Pending.
func (h *VaccinationHandler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), middleware.OwnerID(c), models.VaccinationStatus(c.Query("status")))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

// Schedule plans a vaccination.
func (h *VaccinationHandler) Schedule(c *gin.Context) {
	var in vaccinations.ScheduleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	v, err := h.svc.Schedule(c.Request.Context(), middleware.OwnerID(c), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, v)
}

// Administer marks a vaccination as given. The body is optional.
func (h *VaccinationHandler) Administer(c *gin.Context) {
	var body struct {
		AdministeredAt *time.Time `json:"administered_at"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}

	v, err := h.svc.Administer(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), body.AdministeredAt)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Delete removes a vaccination.
func (h *VaccinationHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), middleware.OwnerID(c), c.Param("id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
