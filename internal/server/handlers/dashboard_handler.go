package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/farmledger/internal/domain/models"
	"github.com/mamadbah2/farmledger/internal/server/middleware"
	"github.com/mamadbah2/farmledger/internal/service/accounts"
)

// DashboardService builds the farm overview.
type DashboardService interface {
	Dashboard(ctx context.Context, ownerID string) (models.Dashboard, error)
}

// ProfileService reads and writes user profiles.
type ProfileService interface {
	GetProfile(ctx context.Context, userID string) (models.User, error)
	UpdateProfile(ctx context.Context, userID string, in accounts.ProfileInput) (models.User, error)
}

// AccountHandler serves the dashboard and profile routes.
type AccountHandler struct {
	dashboard DashboardService
	profiles  ProfileService
	logger    *zap.Logger
}

// NewAccountHandler constructs the dashboard and profile HTTP adapter.
func NewAccountHandler(dashboard DashboardService, profiles ProfileService, logger *zap.Logger) *AccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountHandler{dashboard: dashboard, profiles: profiles, logger: logger}
}

// Dashboard returns the farm overview.
func (h *AccountHandler) Dashboard(c *gin.Context) {
	dash, err := h.dashboard.Dashboard(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, dash)
}

// Profile returns the caller's profile.
func (h *AccountHandler) Profile(c *gin.Context) {
	user, err := h.profiles.GetProfile(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile replaces the caller's profile.
func (h *AccountHandler) UpdateProfile(c *gin.Context) {
	var in accounts.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.profiles.UpdateProfile(c.Request.Context(), middleware.OwnerID(c), in)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
