// Package captures exposes the capture session engine over HTTP.
package captures

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/capturekit/server/internal/models"
	"github.com/capturekit/server/internal/session"
	"github.com/capturekit/server/internal/status"
	"github.com/capturekit/server/pkg/response"
)

// Engine is the part of *session.Engine the handler drives.
type Engine interface {
	Start(ctx context.Context, p session.StartParams) (session.Session, error)
	Finish(ctx context.Context, id string, p session.FinishParams) (models.VideoSummary, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.VideoSummary, error)
	Get(ctx context.Context, id string) (*models.Video, error)
	Status() session.Status
}

// StatusSource produces the combined status served by GET /api.
type StatusSource interface {
	Snapshot(ctx context.Context) status.CombinedStatus
}

// UploadTracker forgets upload state of deleted captures.
type UploadTracker interface {
	Forget(ctx context.Context, id string) error
}

// StartRequest is the body for POST /captures/start. Every field is optional.
type StartRequest struct {
	ID          string            `json:"id"`
	Region      *models.Region    `json:"region"`
	Project     string            `json:"project"`
	Feature     string            `json:"feature"`
	Scenario    string            `json:"scenario"`
	SID         *int64            `json:"sid"`
	Description string            `json:"description"`
	Meta        map[string]string `json:"meta"`
}

// FinishRequest is the body for POST /captures/:id/finish.
type FinishRequest struct {
	Status      string            `json:"status"`
	Description string            `json:"description"`
	Error       string            `json:"error"`
	StackTrace  string            `json:"stack_trace"`
	Meta        map[string]string `json:"meta"`
	Logs        []models.LogEntry `json:"logs"`
}

// Handler handles capture HTTP endpoints.
type Handler struct {
	engine   Engine
	status   StatusSource
	uploads  UploadTracker
	maskKeys []string
	logger   *zap.Logger
}

// NewHandler creates a captures handler. Meta values under maskKeys are hidden in responses.
func NewHandler(engine Engine, st StatusSource, maskKeys []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, status: st, maskKeys: maskKeys, logger: logger}
}

// SetUploadTracker sets the optional upload tracker cleared on delete.
func (h *Handler) SetUploadTracker(u UploadTracker) { h.uploads = u }

// Register mounts the capture routes on an authenticated group.
func (h *Handler) Register(api *gin.RouterGroup) {
	api.GET("", h.Info)
	api.GET("/captures", h.List)
	api.GET("/captures/status", h.Status)
	api.POST("/captures/start", h.Start)
	api.GET("/captures/:id", h.Get)
	api.POST("/captures/:id/finish", h.Finish)
	api.DELETE("/captures/:id", h.Delete)
}

// Info handles GET /api.
func (h *Handler) Info(c *gin.Context) {
	response.OK(c, h.status.Snapshot(c.Request.Context()))
}

// Start handles POST /captures/start.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	s, err := h.engine.Start(c.Request.Context(), session.StartParams{
		ID:          req.ID,
		Region:      req.Region,
		Project:     req.Project,
		Feature:     req.Feature,
		Scenario:    req.Scenario,
		SID:         req.SID,
		Description: req.Description,
		Meta:        req.Meta,
	})
	if err != nil {
		var data interface{}
		if s.ID != "" {
			data = s
		}
		h.fail(c, err, data)
		return
	}
	response.Created(c, s)
}

// Finish handles POST /captures/:id/finish.
func (h *Handler) Finish(c *gin.Context) {
	var req FinishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sum, err := h.engine.Finish(c.Request.Context(), c.Param("id"), session.FinishParams{
		Status:      req.Status,
		Description: req.Description,
		Error:       req.Error,
		StackTrace:  req.StackTrace,
		Meta:        req.Meta,
		Logs:        req.Logs,
	})
	if err != nil {
		var data interface{}
		if sum.ID != "" {
			data = sum
		}
		h.fail(c, err, data)
		return
	}
	response.OK(c, sum)
}

// Get handles GET /captures/:id. ?mask=all hides every meta value.
func (h *Handler) Get(c *gin.Context) {
	v, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	response.OK(c, v.Masked(h.maskKeys, c.Query("mask") == "all"))
}

// List handles GET /captures.
func (h *Handler) List(c *gin.Context) {
	list, err := h.engine.List(c.Request.Context())
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	response.OK(c, list)
}

// Status handles GET /captures/status.
func (h *Handler) Status(c *gin.Context) {
	response.OK(c, h.engine.Status())
}

// Delete handles DELETE /captures/:id.
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err, nil)
		return
	}
	if h.uploads != nil {
		if err := h.uploads.Forget(c.Request.Context(), id); err != nil {
			h.logger.Warn("upload status not cleared", zap.String("video_id", id), zap.Error(err))
		}
	}
	response.NoContent(c)
}

func (h *Handler) fail(c *gin.Context, err error, data interface{}) {
	code := session.CodeOf(err)
	httpStatus := StatusFor(code)
	if httpStatus >= http.StatusInternalServerError {
		h.logger.Error("capture request failed", zap.String("path", c.FullPath()), zap.String("code", string(code)), zap.Error(err))
	}
	response.Fail(c, httpStatus, string(code), err.Error(), data)
}

// StatusFor maps an engine error code to an HTTP status.
func StatusFor(code session.Code) int {
	switch code {
	case session.CodeAlreadyRecording, session.CodeSessionBusy, session.CodeInvalidSessionState:
		return http.StatusConflict
	case session.CodeNotFound:
		return http.StatusNotFound
	case session.CodeInvalidParameter:
		return http.StatusBadRequest
	case session.CodeEncoderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
