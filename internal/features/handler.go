package features

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/server/respond"
)

// Handler exposes the gate over HTTP.
type Handler struct {
	Gate *Gate
}

func NewHandler(gate *Gate) *Handler {
	return &Handler{Gate: gate}
}

// RegisterRoutes attaches the module lookup routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tenants/:id/modules", h.listModules)
	rg.GET("/tenants/:id/modules/:module", h.hasModule)
}

func (h *Handler) listModules(c *gin.Context) {
	tenantID, ok := authorizedTenant(c)
	if !ok {
		return
	}
	plan, mods, src, err := h.Gate.TenantModules(c.Request.Context(), tenantID)
	if errors.Is(err, ErrTenantNotFound) {
		respond.Error(c, http.StatusNotFound, "not_found", "tenant not found", nil)
		return
	}
	if err != nil {
		respond.Internal(c)
		return
	}
	if mods == nil {
		mods = []string{}
	}
	respond.OK(c, gin.H{"plan": plan, "modules": mods, "source": src})
}

func (h *Handler) hasModule(c *gin.Context) {
	tenantID, ok := authorizedTenant(c)
	if !ok {
		return
	}
	respond.OK(c, gin.H{"enabled": h.Gate.HasModule(c.Request.Context(), tenantID, c.Param("module"))})
}

// RequireModule rejects requests from tenants whose plan lacks module.
// Platform admins are not bound to a tenant and pass through.
func RequireModule(gate *Gate, module string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if middleware.IsPlatformAdmin(c) {
			c.Next()
			return
		}
		tenantID := middleware.TenantIDFromContext(c)
		if tenantID == "" {
			respond.Error(c, http.StatusForbidden, "forbidden", "no tenant bound to caller", nil)
			return
		}
		if !gate.HasModule(c.Request.Context(), tenantID, module) {
			respond.Error(c, http.StatusForbidden, "module_disabled", "module not included in plan", gin.H{"module": module})
			return
		}
		c.Next()
	}
}

func authorizedTenant(c *gin.Context) (string, bool) {
	tenantID := c.Param("id")
	if middleware.IsPlatformAdmin(c) || middleware.TenantIDFromContext(c) == tenantID {
		return tenantID, true
	}
	respond.Error(c, http.StatusForbidden, "forbidden", "tenant access denied", nil)
	return "", false
}
