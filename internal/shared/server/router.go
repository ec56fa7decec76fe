package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/chat"
	"brokercrm-backend/internal/features"
	"brokercrm-backend/internal/notifications"
	"brokercrm-backend/internal/passwords"
	"brokercrm-backend/internal/scanbatches"
	"brokercrm-backend/internal/services/health"
	"brokercrm-backend/internal/shared/auth"
	"brokercrm-backend/internal/shared/config"
	"brokercrm-backend/internal/shared/metrics"
	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/server/respond"
	"brokercrm-backend/internal/tenants"
	"brokercrm-backend/internal/uploads"
	"brokercrm-backend/internal/usage"
)

const (
	rateGroupDefault = "DEFAULT"
	rateGroupAI      = "AI"
)

// PublicPaths pass authentication without a token.
var PublicPaths = []string{
	"/api/v1/health",
	"/metrics",
	"/api/v1/functions/ai-chat",
	"/api/v1/functions/check-password",
}

// RouterDeps carries everything the router mounts. Nil handlers are skipped.
type RouterDeps struct {
	Config               config.Config
	Verifier             middleware.TokenVerifier
	Gate                 *features.Gate
	Health               *health.Service
	FeaturesHandler      *features.Handler
	ScanBatchesHandler   *scanbatches.Handler
	TenantsHandler       *tenants.Handler
	ChatHandler          *chat.Handler
	PasswordsHandler     *passwords.Handler
	NotificationsHandler *notifications.Handler
	UsageHandler         *usage.Handler
	UploadsHandler       *uploads.Handler
	RateLimiter          *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Verifier, PublicPaths...),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				rateGroupDefault: {Rate: 10, Burst: 40},
				rateGroupAI:      {Rate: 0.5, Burst: 5},
			},
			DefaultGroup: rateGroupDefault,
			GroupFor:     rateGroupFor,
			Limiter:      deps.RateLimiter,
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		body, ok := deps.Health.Status(c.Request.Context())
		if !ok {
			respond.JSON(c, http.StatusServiceUnavailable, body)
			return
		}
		respond.OK(c, body)
	})
	registerMeRoutes(api)

	if deps.FeaturesHandler != nil {
		deps.FeaturesHandler.RegisterRoutes(api)
	}
	if deps.ScanBatchesHandler != nil {
		var guards []gin.HandlerFunc
		if deps.Gate != nil {
			guards = append(guards, features.RequireModule(deps.Gate, "scan"))
		}
		deps.ScanBatchesHandler.RegisterRoutes(api, guards...)
	}
	if deps.TenantsHandler != nil {
		deps.TenantsHandler.RegisterRoutes(api, middleware.RequireRole(auth.RoleKingAdmin))
	}
	if deps.ChatHandler != nil {
		deps.ChatHandler.RegisterRoutes(api)
	}
	if deps.PasswordsHandler != nil {
		deps.PasswordsHandler.RegisterRoutes(api)
	}
	if deps.NotificationsHandler != nil {
		deps.NotificationsHandler.RegisterRoutes(api)
	}
	if deps.UsageHandler != nil {
		deps.UsageHandler.RegisterRoutes(api)
	}
	if deps.UploadsHandler != nil {
		deps.UploadsHandler.RegisterRoutes(api)
	}

	return r
}

func rateGroupFor(c *gin.Context) string {
	switch {
	case strings.HasSuffix(c.Request.URL.Path, "/functions/ai-chat"),
		strings.HasSuffix(c.Request.URL.Path, "/functions/classify-batch-documents"):
		return rateGroupAI
	default:
		return rateGroupDefault
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
