package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/shared/auth"
	"brokercrm-backend/internal/shared/server/respond"
)

const (
	userIDKey    = "userId"
	userEmailKey = "userEmail"
	tenantIDKey  = "tenantId"
	roleKey      = "role"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// Auth validates bearer JWTs and stores identity in context. Public paths
// pass without a token but still pick up identity when one is sent.
func Auth(verifier TokenVerifier, publicPaths ...string) gin.HandlerFunc {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}
		_, isPublic := public[c.Request.URL.Path]

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			if isPublic {
				c.Next()
				return
			}
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		token, ok := bearerToken(header)
		var claims auth.Claims
		var err error
		if ok {
			claims, err = verifier.Verify(token)
		}
		if !ok || err != nil {
			if isPublic {
				c.Next()
				return
			}
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}

		c.Set(userIDKey, claims.Sub)
		if claims.Email != "" {
			c.Set(userEmailKey, claims.Email)
		}
		if claims.TenantID != "" {
			c.Set(tenantIDKey, claims.TenantID)
		}
		if claims.Role != "" {
			c.Set(roleKey, claims.Role)
		}
		c.Next()
	}
}

// RequireRole rejects requests whose role claim is not one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserIDFromContext(c) == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
			return
		}
		role := RoleFromContext(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		respond.Error(c, http.StatusForbidden, "forbidden", "insufficient role", nil)
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// UserIDFromContext fetches the user ID set by the auth middleware.
func UserIDFromContext(c *gin.Context) string {
	return contextString(c, userIDKey)
}

// UserEmailFromContext fetches the user email set by the auth middleware.
func UserEmailFromContext(c *gin.Context) string {
	return contextString(c, userEmailKey)
}

// TenantIDFromContext fetches the tenant claim set by the auth middleware.
func TenantIDFromContext(c *gin.Context) string {
	return contextString(c, tenantIDKey)
}

// RoleFromContext fetches the role claim set by the auth middleware.
func RoleFromContext(c *gin.Context) string {
	return contextString(c, roleKey)
}

// IsPlatformAdmin reports whether the caller holds the king_admin role.
func IsPlatformAdmin(c *gin.Context) bool {
	return RoleFromContext(c) == auth.RoleKingAdmin
}

func contextString(c *gin.Context, key string) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(key)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
