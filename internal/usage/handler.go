package usage

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/server/respond"
)

// Handler exposes usage endpoints.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches usage routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tenants/:id/usage", h.getUsage)
}

func (h *Handler) getUsage(c *gin.Context) {
	tenantID := c.Param("id")
	if !middleware.IsPlatformAdmin(c) && middleware.TenantIDFromContext(c) != tenantID {
		respond.Error(c, http.StatusForbidden, "forbidden", "tenant access denied", nil)
		return
	}
	period := c.Query("period")
	counters, err := h.Svc.Get(c.Request.Context(), tenantID, period)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "invalid_input", "period must be YYYY-MM", nil)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal", "failed to fetch usage", nil)
		}
		return
	}
	if period == "" {
		period = PeriodOf(h.Svc.now())
	}
	respond.OK(c, gin.H{"tenantId": tenantID, "period": period, "counters": counters})
}
