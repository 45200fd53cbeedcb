package uploads

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/internal/videos"
	"github.com/capturekit/server/pkg/response"
)

// Presigner issues temporary download links. *storage.S3 implements it.
type Presigner interface {
	PresignedDownloadURL(ctx context.Context, key string) (string, error)
}

// Handler exposes the upload endpoints.
type Handler struct {
	service   *Service
	presigner Presigner
	logger    *zap.Logger
}

// NewHandler creates an uploads handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// SetPresigner enables GET /captures/:id/download-url.
func (h *Handler) SetPresigner(p Presigner) { h.presigner = p }

// Enqueue handles POST /captures/:id/upload.
func (h *Handler) Enqueue(c *gin.Context) {
	id := c.Param("id")
	st, err := h.service.Enqueue(c.Request.Context(), id)
	switch {
	case err == nil:
		response.Accepted(c, st)
	case errors.Is(err, videos.ErrNotFound):
		response.NotFound(c, "capture not found")
	case errors.Is(err, ErrNotUploadable), errors.Is(err, ErrAlreadyQueued):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error("enqueue upload failed", zap.String("video_id", id), zap.Error(err))
		response.Internal(c, "failed to schedule upload")
	}
}

// List handles GET /uploads.
func (h *Handler) List(c *gin.Context) {
	list, err := h.service.Statuses(c.Request.Context())
	if err != nil {
		h.logger.Error("list uploads failed", zap.Error(err))
		response.Internal(c, "failed to list uploads")
		return
	}
	response.OK(c, list)
}

// DownloadURL handles GET /captures/:id/download-url for finished uploads.
func (h *Handler) DownloadURL(c *gin.Context) {
	if h.presigner == nil {
		response.ServiceUnavailable(c, "uploads are not configured")
		return
	}
	id := c.Param("id")
	st, err := h.service.Get(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "no upload for capture")
		return
	}
	if err != nil {
		h.logger.Error("get upload failed", zap.String("video_id", id), zap.Error(err))
		response.Internal(c, "failed to read upload status")
		return
	}
	if st.State != models.UploadFinished {
		response.Conflict(c, "upload is "+st.State)
		return
	}
	url, err := h.presigner.PresignedDownloadURL(c.Request.Context(), st.Key)
	if err != nil {
		h.logger.Error("presign failed", zap.String("video_id", id), zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"url": url, "key": st.Key})
}

// Register mounts the upload routes on an authenticated group.
func (h *Handler) Register(api *gin.RouterGroup) {
	api.POST("/captures/:id/upload", h.Enqueue)
	api.GET("/captures/:id/download-url", h.DownloadURL)
	api.GET("/uploads", h.List)
}
