package passwords

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/shared/server/respond"
	"brokercrm-backend/internal/shared/telemetry"
)

type Handler struct {
	Checker *Checker
}

func NewHandler(c *Checker) *Handler {
	return &Handler{Checker: c}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/functions/check-password", h.check)
}

type checkRequest struct {
	Password string `json:"password"`
}

func (h *Handler) check(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid JSON body")
		return
	}
	res, err := h.Checker.Check(c.Request.Context(), req.Password)
	switch {
	case errors.Is(err, ErrEmptyPassword):
		respond.BadRequest(c, err.Error())
	case err != nil:
		telemetry.Warn("passwords.check_failed", map[string]any{"request_id": c.GetString("requestId"), "error": err})
		respond.Error(c, http.StatusBadGateway, "upstream_failed", "breach lookup unavailable", nil)
	default:
		respond.OK(c, res)
	}
}
