package offers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shoplive-labs/backend/internal/middleware"
	"github.com/shoplive-labs/backend/internal/models"
	"github.com/shoplive-labs/backend/internal/realtime"
	"github.com/shoplive-labs/backend/internal/streams"
	"github.com/shoplive-labs/backend/pkg/response"
	"github.com/shoplive-labs/backend/pkg/storage"
)

// CreateRequest is the body for POST /streams/:id/offers.
type CreateRequest struct {
	Title         string `json:"title" binding:"required"`
	Code          string `json:"code"`
	QuantityLimit *int   `json:"quantity_limit"`
}

// UploadURLRequest is the body for the banner presign endpoint.
type UploadURLRequest struct {
	ContentType string `json:"content_type" binding:"required"`
}

// Handler handles offer HTTP endpoints.
type Handler struct {
	repo       *Repository
	streamRepo *streams.Repository
	hub        *realtime.Hub
	s3         *storage.S3
}

// NewHandler creates an offers handler. s3 may be nil when media uploads are
// not configured.
func NewHandler(repo *Repository, streamRepo *streams.Repository, hub *realtime.Hub, s3 *storage.S3) *Handler {
	return &Handler{repo: repo, streamRepo: streamRepo, hub: hub, s3: s3}
}

// Create handles POST /streams/:id/offers (host).
func (h *Handler) Create(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	if !h.requireHost(c, streamID) {
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.QuantityLimit != nil && *req.QuantityLimit <= 0 {
		response.BadRequest(c, "quantity_limit must be positive")
		return
	}

	o := &models.Offer{
		StreamID:      streamID,
		Title:         req.Title,
		Code:          req.Code,
		QuantityLimit: req.QuantityLimit,
	}
	if err := h.repo.Create(c.Request.Context(), o); err != nil {
		response.Internal(c, "failed to create offer")
		return
	}
	response.Created(c, o)
}

// ListByStream handles GET /streams/:id/offers.
func (h *Handler) ListByStream(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	list, err := h.repo.ListByStream(c.Request.Context(), streamID)
	if err != nil {
		response.Internal(c, "failed to list offers")
		return
	}
	response.OK(c, list)
}

// Activate handles PATCH /offers/:id/activate (host). Broadcasts
// offer_activated to the room so viewers see the offer go live.
func (h *Handler) Activate(c *gin.Context) {
	offerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid offer id")
		return
	}
	o, err := h.repo.GetByID(c.Request.Context(), offerID)
	if err != nil {
		response.Internal(c, "failed to load offer")
		return
	}
	if o == nil {
		response.NotFound(c, "offer not found")
		return
	}
	if !h.requireHost(c, o.StreamID) {
		return
	}

	if err := h.repo.Activate(c.Request.Context(), offerID); err != nil {
		response.Internal(c, "failed to activate offer")
		return
	}
	o.IsActive = true

	h.hub.Broadcast(o.StreamID, realtime.EventOfferActivated, o)
	response.OK(c, o)
}

// GenerateBannerUploadURL handles POST /offers/:id/banner/generate-upload-url
// (host).
func (h *Handler) GenerateBannerUploadURL(c *gin.Context) {
	if h.s3 == nil {
		response.Internal(c, "media storage not configured")
		return
	}
	offerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid offer id")
		return
	}
	o, err := h.repo.GetByID(c.Request.Context(), offerID)
	if err != nil {
		response.Internal(c, "failed to load offer")
		return
	}
	if o == nil {
		response.NotFound(c, "offer not found")
		return
	}
	if !h.requireHost(c, o.StreamID) {
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

	key := storage.BannerKey(o.ID.String(), req.ContentType)
	url, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), key, req.ContentType, h.s3.PresignExpire())
	if err != nil {
		response.Internal(c, "failed to generate upload url")
		return
	}
	if err := h.repo.SetBannerKey(c.Request.Context(), o.ID, key); err != nil {
		response.Internal(c, "failed to record banner key")
		return
	}
	response.OK(c, gin.H{"upload_url": url, "key": key})
}

func (h *Handler) requireHost(c *gin.Context, streamID uuid.UUID) bool {
	s, err := h.streamRepo.GetByID(c.Request.Context(), streamID)
	if err != nil {
		response.Internal(c, "failed to load stream")
		return false
	}
	if s == nil {
		response.NotFound(c, "stream not found")
		return false
	}
	hostID := c.MustGet(middleware.ContextCustomerID).(uuid.UUID)
	if s.HostID != hostID {
		response.Forbidden(c, "only the stream host can do this")
		return false
	}
	return true
}
