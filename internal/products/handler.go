package products

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shoplive-labs/backend/internal/middleware"
	"github.com/shoplive-labs/backend/internal/models"
	"github.com/shoplive-labs/backend/internal/realtime"
	"github.com/shoplive-labs/backend/internal/streams"
	"github.com/shoplive-labs/backend/pkg/response"
)

// AddRequest is the body for POST /streams/:id/products.
type AddRequest struct {
	ProductID  uuid.UUID `json:"product_id" binding:"required"`
	Name       string    `json:"name" binding:"required"`
	PriceCents int       `json:"price_cents"`
}

// FeatureRequest is the body for the feature endpoint.
type FeatureRequest struct {
	Note string `json:"note"`
}

// Handler handles stream product HTTP endpoints.
type Handler struct {
	repo       *Repository
	streamRepo *streams.Repository
	hub        *realtime.Hub
}

// NewHandler creates a products handler.
func NewHandler(repo *Repository, streamRepo *streams.Repository, hub *realtime.Hub) *Handler {
	return &Handler{repo: repo, streamRepo: streamRepo, hub: hub}
}

// Add handles POST /streams/:id/products (host). Links a catalog product to
// the stream; re-adding an existing link updates name and price.
func (h *Handler) Add(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	if !h.requireHost(c, streamID) {
		return
	}

	var req AddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	p := &models.StreamProduct{
		StreamID:   streamID,
		ProductID:  req.ProductID,
		Name:       req.Name,
		PriceCents: req.PriceCents,
	}
	if err := h.repo.Add(c.Request.Context(), p); err != nil {
		response.Internal(c, "failed to add product")
		return
	}
	response.Created(c, p)
}

// ListByStream handles GET /streams/:id/products.
func (h *Handler) ListByStream(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	list, err := h.repo.ListByStream(c.Request.Context(), streamID)
	if err != nil {
		response.Internal(c, "failed to list products")
		return
	}
	response.OK(c, list)
}

// Feature handles PATCH /streams/:id/products/:productId/feature (host). The
// REST twin of the feature_product room event; broadcasts product_featured.
func (h *Handler) Feature(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	productID, err := uuid.Parse(c.Param("productId"))
	if err != nil {
		response.BadRequest(c, "invalid product id")
		return
	}
	if !h.requireHost(c, streamID) {
		return
	}

	var req FeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	p, err := h.repo.SetFeatured(c.Request.Context(), streamID, productID, req.Note)
	if err != nil {
		response.Internal(c, "failed to feature product")
		return
	}
	if p == nil {
		response.NotFound(c, "product not linked to this stream")
		return
	}

	h.hub.Broadcast(streamID, realtime.EventProductFeatured, p)
	response.OK(c, p)
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
