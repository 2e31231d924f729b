package chat

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplive-labs/backend/internal/middleware"
	"github.com/shoplive-labs/backend/internal/models"
	"github.com/shoplive-labs/backend/internal/realtime"
	"github.com/shoplive-labs/backend/pkg/response"
)

// MessageStore is the chat message persistence the handler reads and
// moderates through.
type MessageStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error)
	ListByStream(ctx context.Context, streamID uuid.UUID, limit int, includeModerated bool) ([]models.ChatMessage, error)
	Approve(ctx context.Context, id uuid.UUID) error
}

// StreamDirectory is the slice of stream persistence the handler needs.
type StreamDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Stream, error)
	IncrementChatCounter(ctx context.Context, id uuid.UUID) error
}

// Handler handles chat HTTP endpoints: message history and moderation.
type Handler struct {
	repo       MessageStore
	streamRepo StreamDirectory
	hub        *realtime.Hub
	logger     *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(repo MessageStore, streamRepo StreamDirectory, hub *realtime.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, streamRepo: streamRepo, hub: hub, logger: logger}
}

// History handles GET /streams/:id/messages. Pending (moderated) messages are
// excluded; hosts see them with ?include_pending=true.
func (h *Handler) History(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid stream id")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	includePending := false
	if c.Query("include_pending") == "true" {
		s, err := h.streamRepo.GetByID(c.Request.Context(), streamID)
		if err != nil {
			response.Internal(c, "failed to load stream")
			return
		}
		if s == nil {
			response.NotFound(c, "stream not found")
			return
		}
		hostID, ok := c.Get(middleware.ContextCustomerID)
		if !ok || s.HostID != hostID.(uuid.UUID) {
			response.Forbidden(c, "only the stream host can see pending messages")
			return
		}
		includePending = true
	}

	list, err := h.repo.ListByStream(c.Request.Context(), streamID, limit, includePending)
	if err != nil {
		response.Internal(c, "failed to load messages")
		return
	}
	response.OK(c, list)
}

// Approve handles PATCH /messages/:id/approve (host). Releases a pending
// message and broadcasts it to the room as new_message.
func (h *Handler) Approve(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}

	msg, err := h.repo.GetByID(c.Request.Context(), messageID)
	if err != nil {
		response.Internal(c, "failed to load message")
		return
	}
	if msg == nil {
		response.NotFound(c, "message not found")
		return
	}

	s, err := h.streamRepo.GetByID(c.Request.Context(), msg.StreamID)
	if err != nil || s == nil {
		response.Internal(c, "failed to load stream")
		return
	}
	hostID := c.MustGet(middleware.ContextCustomerID).(uuid.UUID)
	if s.HostID != hostID {
		response.Forbidden(c, "only the stream host can approve messages")
		return
	}
	if !msg.IsModerated {
		response.Conflict(c, "message is not pending")
		return
	}

	if err := h.repo.Approve(c.Request.Context(), messageID); err != nil {
		response.Internal(c, "failed to approve message")
		return
	}
	msg.IsModerated = false

	h.hub.Broadcast(msg.StreamID, realtime.EventNewMessage, msg)
	// the message is already released; a failed increment only drifts the counter
	if err := h.streamRepo.IncrementChatCounter(c.Request.Context(), msg.StreamID); err != nil {
		h.logger.Warn("increment chat counter failed",
			zap.String("stream_id", msg.StreamID.String()), zap.Error(err))
	}
	response.OK(c, msg)
}
