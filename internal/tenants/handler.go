package tenants

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/server/respond"
)

// Handler exposes tenant lifecycle functions to platform admins.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes mounts the functions under rg; guards run first.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, guards ...gin.HandlerFunc) {
	g := rg.Group("/functions", guards...)
	g.POST("/activate-tenant", h.activate)
	g.POST("/delete-tenant", h.delete)
	g.POST("/export-tenant-data", h.export)
}

type activateRequest struct {
	TenantID   string `json:"tenant_id"`
	AdminEmail string `json:"admin_email"`
	AdminName  string `json:"admin_name"`
}

func (h *Handler) activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid JSON body")
		return
	}
	res, err := h.Svc.Activate(c.Request.Context(), ActivateInput{
		TenantID:   req.TenantID,
		AdminEmail: req.AdminEmail,
		AdminName:  req.AdminName,
		ActorID:    middleware.UserIDFromContext(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, res)
}

type deleteRequest struct {
	TenantID         string `json:"tenant_id"`
	ConfirmationName string `json:"confirmation_name"`
}

func (h *Handler) delete(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid JSON body")
		return
	}
	res, err := h.Svc.Delete(c.Request.Context(), req.TenantID, req.ConfirmationName, middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, res)
}

type exportRequest struct {
	TenantID string `json:"tenant_id"`
	Format   string `json:"format"`
}

func (h *Handler) export(c *gin.Context) {
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid JSON body")
		return
	}
	file, err := h.Svc.Export(c.Request.Context(), req.TenantID, req.Format, middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.Attachment(c, file.FileName, file.ContentType, file.Body)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "tenant not found", nil)
	case errors.Is(err, ErrConfirmationMismatch):
		respond.Error(c, http.StatusBadRequest, "confirmation_mismatch", err.Error(), nil)
	case errors.Is(err, ErrUnsupportedFormat):
		respond.Error(c, http.StatusBadRequest, "invalid_input", "format must be json, csv or xlsx", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.BadRequest(c, err.Error())
	default:
		respond.Internal(c)
	}
}
