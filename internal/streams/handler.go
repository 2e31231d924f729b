package streams

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shoplive-labs/backend/internal/middleware"
	"github.com/shoplive-labs/backend/internal/models"
	"github.com/shoplive-labs/backend/internal/realtime"
	"github.com/shoplive-labs/backend/pkg/response"
	"github.com/shoplive-labs/backend/pkg/storage"
)

// CreateRequest is the body for POST /streams.
type CreateRequest struct {
	Title         string `json:"title" binding:"required"`
	AllowChat     *bool  `json:"allow_chat"`
	ModeratedChat bool   `json:"moderated_chat"`
}

// UpdateRequest is the body for PATCH /streams/:id.
type UpdateRequest struct {
	Title         string `json:"title"`
	AllowChat     *bool  `json:"allow_chat"`
	ModeratedChat *bool  `json:"moderated_chat"`
}

// UploadURLRequest is the body for presigned upload endpoints.
type UploadURLRequest struct {
	ContentType string `json:"content_type" binding:"required"`
}

// Handler handles stream HTTP endpoints.
type Handler struct {
	repo *Repository
	hub  *realtime.Hub
	s3   *storage.S3
}

// NewHandler creates a streams handler. s3 may be nil when media uploads are
// not configured.
func NewHandler(repo *Repository, hub *realtime.Hub, s3 *storage.S3) *Handler {
	return &Handler{repo: repo, hub: hub, s3: s3}
}

// Create handles POST /streams (host).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	hostID := c.MustGet(middleware.ContextCustomerID).(uuid.UUID)

	s := &models.Stream{
		HostID:        hostID,
		Title:         req.Title,
		AllowChat:     true,
		ModeratedChat: req.ModeratedChat,
	}
	if req.AllowChat != nil {
		s.AllowChat = *req.AllowChat
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		response.Internal(c, "failed to create stream")
		return
	}
	response.Created(c, s)
}

// List handles GET /streams. Optional ?status= filter.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		response.Internal(c, "failed to list streams")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /streams/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load stream")
		return
	}
	if s == nil {
		response.NotFound(c, "stream not found")
		return
	}
	response.OK(c, s)
}

// Update handles PATCH /streams/:id (host). Updates title and chat flags.
func (h *Handler) Update(c *gin.Context) {
	s, ok := h.requireOwnStream(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.Update(c.Request.Context(), s.ID, req.Title, req.AllowChat, req.ModeratedChat); err != nil {
		response.Internal(c, "failed to update stream")
		return
	}
	updated, err := h.repo.GetByID(c.Request.Context(), s.ID)
	if err != nil || updated == nil {
		response.Internal(c, "failed to load stream")
		return
	}
	response.OK(c, updated)
}

// Start handles POST /streams/:id/start (host). scheduled -> live.
func (h *Handler) Start(c *gin.Context) {
	s, ok := h.requireOwnStream(c)
	if !ok {
		return
	}
	if err := h.repo.Start(c.Request.Context(), s.ID); err != nil {
		response.Conflict(c, "stream is not in scheduled state")
		return
	}
	h.hub.Broadcast(s.ID, realtime.EventStreamStarted, gin.H{"stream_id": s.ID})
	response.OK(c, gin.H{"id": s.ID, "status": models.StreamStatusLive})
}

// End handles POST /streams/:id/end (host). live -> ended.
func (h *Handler) End(c *gin.Context) {
	s, ok := h.requireOwnStream(c)
	if !ok {
		return
	}
	if err := h.repo.End(c.Request.Context(), s.ID); err != nil {
		response.Conflict(c, "stream is not live")
		return
	}
	h.hub.Broadcast(s.ID, realtime.EventStreamEnded, gin.H{"stream_id": s.ID})
	response.OK(c, gin.H{"id": s.ID, "status": models.StreamStatusEnded})
}

// ViewerCount handles GET /streams/:id/viewer_count. Live count from the
// presence registry, not the durable store.
func (h *Handler) ViewerCount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	response.OK(c, gin.H{"stream_id": id, "viewer_count": h.hub.ViewerCount(id)})
}

// GenerateCoverUploadURL handles POST /streams/:id/cover/generate-upload-url
// (host). Returns a presigned PUT URL and records the object key.
func (h *Handler) GenerateCoverUploadURL(c *gin.Context) {
	if h.s3 == nil {
		response.Internal(c, "media storage not configured")
		return
	}
	s, ok := h.requireOwnStream(c)
	if !ok {
		return
	}
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !storage.ValidateImageType(req.ContentType) {
		response.BadRequest(c, "unsupported image type")
		return
	}

	key := storage.CoverKey(s.ID.String(), req.ContentType)
	url, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), key, req.ContentType, h.s3.PresignExpire())
	if err != nil {
		response.Internal(c, "failed to generate upload url")
		return
	}
	if err := h.repo.SetCoverKey(c.Request.Context(), s.ID, key); err != nil {
		response.Internal(c, "failed to record cover key")
		return
	}
	response.OK(c, gin.H{"upload_url": url, "key": key})
}

// RequireHost is route middleware that verifies the caller hosts the :id
// stream before the wrapped handler runs.
func (h *Handler) RequireHost() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := h.requireOwnStream(c); !ok {
			c.Abort()
			return
		}
		c.Next()
	}
}

// requireOwnStream loads the :id stream and verifies the caller hosts it.
func (h *Handler) requireOwnStream(c *gin.Context) (*models.Stream, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return nil, false
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load stream")
		return nil, false
	}
	if s == nil {
		response.NotFound(c, "stream not found")
		return nil, false
	}
	hostID := c.MustGet(middleware.ContextCustomerID).(uuid.UUID)
	if s.HostID != hostID {
		response.Forbidden(c, "only the stream host can do this")
		return nil, false
	}
	return s, true
}
