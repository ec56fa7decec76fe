package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/server/respond"
)

func registerMeRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", meHandler)
}

// meHandler echoes the identity carried by the caller's token.
func meHandler(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	response := gin.H{
		"userId":          userID,
		"role":            middleware.RoleFromContext(c),
		"isPlatformAdmin": middleware.IsPlatformAdmin(c),
	}
	if email := middleware.UserEmailFromContext(c); email != "" {
		response["email"] = email
	}
	if tenantID := middleware.TenantIDFromContext(c); tenantID != "" {
		response["tenantId"] = tenantID
	}
	respond.OK(c, response)
}
