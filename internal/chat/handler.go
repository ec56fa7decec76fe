package chat

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/llm"
	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/server/respond"
)

type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes mounts the chat function. The route is public; identity is
// used when the caller sent a token.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, guards ...gin.HandlerFunc) {
	rg.POST("/functions/ai-chat", slices.Concat(guards, []gin.HandlerFunc{h.chat})...)
}

type chatRequest struct {
	Messages       []llm.Message `json:"messages"`
	ConversationID string        `json:"conversationId"`
	SessionID      string        `json:"sessionId"`
	UserType       string        `json:"userType"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid JSON body")
		return
	}
	res, err := h.Svc.Reply(c.Request.Context(), Input{
		Messages:       req.Messages,
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
		UserType:       req.UserType,
		TenantID:       middleware.TenantIDFromContext(c),
		UserID:         middleware.UserIDFromContext(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, res)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.BadRequest(c, err.Error())
	case errors.Is(err, ErrUnauthorized):
		respond.Error(c, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	case errors.Is(err, ErrModuleDisabled):
		respond.Error(c, http.StatusForbidden, "module_disabled", "module not included in plan", gin.H{"module": ModuleAIAssistant})
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, llm.ErrRateLimited):
		c.Header("Retry-After", "60")
		respond.Error(c, http.StatusTooManyRequests, "ai_rate_limited", "AI rate limit reached, please try again later", nil)
	case errors.Is(err, llm.ErrPaymentRequired):
		respond.Error(c, http.StatusPaymentRequired, "ai_credits_exhausted", "AI credits exhausted", nil)
	case errors.Is(err, llm.ErrNotConfigured), errors.Is(err, llm.ErrUpstream):
		respond.Error(c, http.StatusBadGateway, "ai_failed", "AI service unavailable", nil)
	default:
		respond.Internal(c)
	}
}
