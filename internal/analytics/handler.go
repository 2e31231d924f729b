package analytics

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplive-labs/backend/internal/streams"
	"github.com/shoplive-labs/backend/internal/viewers"
	"github.com/shoplive-labs/backend/pkg/response"
)

// Handler handles GET /streams/:id/analytics.
type Handler struct {
	pool       *pgxpool.Pool
	streamRepo *streams.Repository
	viewerRepo *viewers.Repository
}

// NewHandler creates an analytics handler.
func NewHandler(pool *pgxpool.Pool, streamRepo *streams.Repository, viewerRepo *viewers.Repository) *Handler {
	return &Handler{pool: pool, streamRepo: streamRepo, viewerRepo: viewerRepo}
}

// SummaryResponse is the JSON shape for stream analytics.
type SummaryResponse struct {
	StreamID             uuid.UUID `json:"stream_id"`
	Status               string    `json:"status"`
	PeakViewers          int       `json:"peak_viewers"`
	UniqueViewers        int       `json:"unique_viewers"`
	TotalChatMessages    int       `json:"total_chat_messages"`
	TotalProductsClicked int       `json:"total_products_clicked"`
	TotalCartAdds        int       `json:"total_cart_adds"`
	TotalOfferClaims     int       `json:"total_offer_claims"`
	AvgWatchSeconds      int64     `json:"avg_watch_seconds"`
}

// GetByStream handles GET /streams/:id/analytics. Durable aggregates only;
// the live count has its own endpoint.
func (h *Handler) GetByStream(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}

	ctx := c.Request.Context()

	s, err := h.streamRepo.GetByID(ctx, id)
	if err != nil {
		response.Internal(c, "failed to load stream")
		return
	}
	if s == nil {
		response.NotFound(c, "stream not found")
		return
	}

	unique, err := h.viewerRepo.CountDistinctByStream(ctx, id)
	if err != nil {
		response.Internal(c, "failed to load viewer counts")
		return
	}

	// Total claims across the stream's offers
	var claims int
	const claimsQ = `SELECT COUNT(*) FROM offer_claims oc
		INNER JOIN offers o ON o.id = oc.offer_id WHERE o.stream_id = $1`
	_ = h.pool.QueryRow(ctx, claimsQ, id).Scan(&claims)

	// Average watch time over closed viewer records
	var avgWatchSeconds int64
	const watchQ = `SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (left_at - joined_at)))::bigint, 0)
		FROM viewer_records WHERE stream_id = $1 AND left_at IS NOT NULL`
	_ = h.pool.QueryRow(ctx, watchQ, id).Scan(&avgWatchSeconds)

	response.OK(c, SummaryResponse{
		StreamID:             id,
		Status:               s.Status,
		PeakViewers:          s.PeakViewers,
		UniqueViewers:        unique,
		TotalChatMessages:    s.TotalChatMessages,
		TotalProductsClicked: s.TotalProductsClicked,
		TotalCartAdds:        s.TotalCartAdds,
		TotalOfferClaims:     claims,
		AvgWatchSeconds:      avgWatchSeconds,
	})
}
