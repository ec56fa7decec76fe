package scanbatches

import (
	"errors"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"brokercrm-backend/internal/llm"
	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/server/respond"
)

const maxUploadSize = MaxFilesPerBatch * MaxFileBytes

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches scan batch routes; guards run before each route.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, guards ...gin.HandlerFunc) {
	g := rg.Group("/scan-batches", guards...)
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PATCH("/:id/documents/:docId", h.correct)
	g.POST("/:id/validate", h.validate)
	g.DELETE("/:id", h.delete)

	rg.POST("/functions/classify-batch-documents", slices.Concat(guards, []gin.HandlerFunc{h.classify})...)
}

func (h *Handler) create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	form, err := c.MultipartForm()
	if err != nil {
		respond.BadRequest(c, "multipart form with files is required")
		return
	}
	tenantID, ok := callerTenant(c, c.PostForm("tenantId"))
	if !ok {
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		respond.BadRequest(c, "files are required")
		return
	}

	files := make([]UploadFile, 0, len(headers))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			respond.BadRequest(c, "unable to read file")
			return
		}
		opened = append(opened, f)
		files = append(files, UploadFile{
			Name:     fh.Filename,
			MimeType: fh.Header.Get("Content-Type"),
			Size:     fh.Size,
			Body:     f,
		})
	}

	batch, err := h.Svc.Create(c.Request.Context(), CreateInput{
		TenantID:  tenantID,
		ClientID:  strings.TrimSpace(c.PostForm("clientId")),
		CreatedBy: middleware.UserIDFromContext(c),
		Files:     files,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.BatchIDKey, batch.ID)
	respond.JSON(c, http.StatusCreated, batch)
}

func (h *Handler) list(c *gin.Context) {
	tenantID, ok := callerTenant(c, c.Query("tenantId"))
	if !ok {
		return
	}
	limit, offset := 20, 0
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		limit = min(max(v, 1), 100)
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v > 0 {
		offset = v
	}
	batches, err := h.Svc.List(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"items": batches})
}

func (h *Handler) get(c *gin.Context) {
	c.Set(middleware.BatchIDKey, c.Param("id"))
	batch, err := h.Svc.Get(c.Request.Context(), scope(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, batch)
}

type correctRequest struct {
	Classification string `json:"classification"`
}

func (h *Handler) correct(c *gin.Context) {
	c.Set(middleware.BatchIDKey, c.Param("id"))
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid request body")
		return
	}
	doc, err := h.Svc.CorrectClassification(c.Request.Context(), scope(c), c.Param("id"), c.Param("docId"), strings.TrimSpace(req.Classification))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, doc)
}

func (h *Handler) validate(c *gin.Context) {
	c.Set(middleware.BatchIDKey, c.Param("id"))
	batch, err := h.Svc.Validate(c.Request.Context(), scope(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.StatusTransitionKey, BatchClassified+"->"+BatchValidated)
	respond.OK(c, batch)
}

func (h *Handler) delete(c *gin.Context) {
	c.Set(middleware.BatchIDKey, c.Param("id"))
	if err := h.Svc.Delete(c.Request.Context(), scope(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type classifyRequest struct {
	BatchID  string `json:"batchId"`
	TenantID string `json:"tenantId"`
}

func (h *Handler) classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid request body")
		return
	}
	req.BatchID = strings.TrimSpace(req.BatchID)
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.BatchID == "" || req.TenantID == "" {
		respond.BadRequest(c, "batchId and tenantId are required")
		return
	}
	tenantID, ok := callerTenant(c, req.TenantID)
	if !ok {
		return
	}
	c.Set(middleware.BatchIDKey, req.BatchID)

	batch, queued, err := h.Svc.Submit(c.Request.Context(), tenantID, req.BatchID, c.GetString("requestId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if queued {
		respond.JSON(c, http.StatusAccepted, gin.H{"success": true, "queued": true, "batchId": batch.ID})
		return
	}
	c.Set(middleware.StatusTransitionKey, BatchProcessing+"->"+batch.Status)
	respond.OK(c, gin.H{
		"success":             true,
		"batchId":             batch.ID,
		"status":              batch.Status,
		"documentsClassified": batch.DocumentsClassified,
		"consolidation":       batch.ConsolidationSummary,
	})
}

// callerTenant resolves the tenant a request acts on. Platform admins name it
// explicitly; everyone else is bound to the tenant in their token.
func callerTenant(c *gin.Context, requested string) (string, bool) {
	own := middleware.TenantIDFromContext(c)
	if middleware.IsPlatformAdmin(c) {
		if requested == "" {
			requested = own
		}
		if requested == "" {
			respond.BadRequest(c, "tenantId is required")
			return "", false
		}
		return requested, true
	}
	if own == "" || (requested != "" && requested != own) {
		respond.Error(c, http.StatusForbidden, "forbidden", "tenant access denied", nil)
		return "", false
	}
	return own, true
}

// scope returns "" for platform admins so lookups span tenants.
func scope(c *gin.Context) string {
	if middleware.IsPlatformAdmin(c) {
		return ""
	}
	if t := middleware.TenantIDFromContext(c); t != "" {
		return t
	}
	// no tenant bound: match nothing
	return "00000000-0000-0000-0000-000000000000"
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond.BadRequest(c, err.Error())
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "scan batch not found", nil)
	case errors.Is(err, ErrInvalidState):
		respond.Error(c, http.StatusConflict, "invalid_state", err.Error(), nil)
	case errors.Is(err, ErrNoDocumentsDownloaded):
		respond.Error(c, http.StatusUnprocessableEntity, "no_documents", "No documents could be downloaded", nil)
	case errors.Is(err, llm.ErrRateLimited):
		c.Header("Retry-After", "60")
		respond.Error(c, http.StatusTooManyRequests, "ai_rate_limited", "AI rate limit reached, please try again later", nil)
	case errors.Is(err, llm.ErrPaymentRequired):
		respond.Error(c, http.StatusPaymentRequired, "ai_credits_exhausted", "AI credits exhausted, please top up", nil)
	case errors.Is(err, ErrInvalidModelResponse), errors.Is(err, llm.ErrUpstream), errors.Is(err, llm.ErrNotConfigured):
		respond.Error(c, http.StatusBadGateway, "ai_failed", "Document classification failed", nil)
	default:
		respond.Internal(c)
	}
}
