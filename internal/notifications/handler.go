package notifications

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/server/respond"
)

// Handler exposes notification endpoints.
type Handler struct {
	Repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{Repo: repo}
}

// RegisterRoutes attaches notification routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/notifications", h.list)
	rg.POST("/notifications/:id/read", h.markRead)
}

func (h *Handler) list(c *gin.Context) {
	scope, ok := scopeTenant(c)
	if !ok {
		return
	}
	unread, _ := strconv.ParseBool(c.Query("unread"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	items, err := h.Repo.List(c.Request.Context(), Filter{TenantID: scope, UnreadOnly: unread, Limit: limit})
	if err != nil {
		respond.Internal(c)
		return
	}
	respond.OK(c, gin.H{"items": items})
}

func (h *Handler) markRead(c *gin.Context) {
	scope, ok := scopeTenant(c)
	if !ok {
		return
	}
	if err := h.Repo.MarkRead(c.Request.Context(), c.Param("id"), scope); err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "notification not found", nil)
			return
		}
		respond.Internal(c)
		return
	}
	c.Status(http.StatusNoContent)
}

// scopeTenant returns "" for platform admins, otherwise the caller's tenant.
func scopeTenant(c *gin.Context) (string, bool) {
	if middleware.IsPlatformAdmin(c) {
		return c.Query("tenantId"), true
	}
	tenantID := middleware.TenantIDFromContext(c)
	if tenantID == "" {
		respond.Error(c, http.StatusForbidden, "forbidden", "tenant access denied", nil)
		return "", false
	}
	return tenantID, true
}
