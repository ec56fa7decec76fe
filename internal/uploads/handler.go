// Package uploads issues presigned URLs so browsers upload straight to object storage.
package uploads

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"brokercrm-backend/internal/shared/server/middleware"
	"brokercrm-backend/internal/shared/server/respond"
	"brokercrm-backend/internal/shared/storage/object"
	"brokercrm-backend/internal/shared/telemetry"
	"brokercrm-backend/internal/shared/util"
)

const presignExpires = 15 * time.Minute

type bucketRule struct {
	maxBytes     int64
	folder       string
	contentTypes map[string]struct{}
	roles        []string
}

var rules = map[string]bucketRule{
	object.BucketDocuments: {
		maxBytes: 20 << 20,
		folder:   "documents",
		contentTypes: map[string]struct{}{
			"application/pdf":    {},
			"application/msword": {},
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
			"image/jpeg": {},
			"image/png":  {},
			"image/webp": {},
		},
	},
	object.BucketTenantLogos: {
		maxBytes: 2 << 20,
		folder:   "logo",
		contentTypes: map[string]struct{}{
			"image/png":     {},
			"image/jpeg":    {},
			"image/webp":    {},
			"image/svg+xml": {},
		},
		roles: []string{"tenant_admin", "king_admin"},
	},
}

// Handler presigns uploads against a Presigner.
type Handler struct {
	Presigner object.Presigner
}

func NewHandler(p object.Presigner) *Handler {
	return &Handler{Presigner: p}
}

type presignRequest struct {
	Bucket      string `json:"bucket"`
	TenantID    string `json:"tenantId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

type presignResponse struct {
	UploadURL        string `json:"uploadUrl"`
	Bucket           string `json:"bucket"`
	Key              string `json:"key"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/uploads/presign", h.presign)
}

func (h *Handler) presign(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "invalid request body")
		return
	}
	req.FileName = strings.TrimSpace(req.FileName)
	req.ContentType = strings.ToLower(strings.TrimSpace(req.ContentType))
	if req.Bucket == "" {
		req.Bucket = object.BucketDocuments
	}

	rule, ok := rules[req.Bucket]
	if !ok {
		respond.BadRequest(c, "bucket must be documents or tenant-logos")
		return
	}
	if len(rule.roles) > 0 && !hasRole(middleware.RoleFromContext(c), rule.roles) {
		respond.Error(c, http.StatusForbidden, "forbidden", "insufficient role", nil)
		return
	}
	tenantID := middleware.TenantIDFromContext(c)
	if middleware.IsPlatformAdmin(c) {
		tenantID = strings.TrimSpace(req.TenantID)
	}
	if tenantID == "" {
		respond.Error(c, http.StatusForbidden, "forbidden", "no tenant bound to caller", nil)
		return
	}
	if req.FileName == "" {
		respond.BadRequest(c, "fileName is required")
		return
	}
	if _, ok := rule.contentTypes[req.ContentType]; !ok {
		respond.BadRequest(c, "contentType is not allowed")
		return
	}
	if req.SizeBytes <= 0 || req.SizeBytes > rule.maxBytes {
		respond.BadRequest(c, "sizeBytes exceeds limit")
		return
	}
	sanitized, err := util.SanitizeFileName(req.FileName)
	if err != nil {
		respond.BadRequest(c, "invalid fileName")
		return
	}

	key := path.Join(tenantID, rule.folder, uuid.NewString()+"_"+sanitized)
	url, err := h.Presigner.PresignPut(c.Request.Context(), req.Bucket, key, req.ContentType, presignExpires)
	if err != nil {
		telemetry.Error("uploads.presign.failed", map[string]any{
			"error":      err,
			"bucket":     req.Bucket,
			"key":        key,
			"tenant_id":  tenantID,
			"request_id": c.GetString("requestId"),
		})
		respond.Internal(c)
		return
	}
	respond.OK(c, presignResponse{
		UploadURL:        url,
		Bucket:           req.Bucket,
		Key:              key,
		ExpiresInSeconds: int64(presignExpires.Seconds()),
	})
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
