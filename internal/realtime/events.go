package realtime

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/shoplive-labs/backend/internal/models"
)

// Envelope is the WebSocket message envelope in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event kinds.
const (
	EventJoinStream       = "join_stream"
	EventLeaveStream      = "leave_stream"
	EventResumeSession    = "resume_session"
	EventSendMessage      = "send_message"
	EventAddReaction      = "add_reaction"
	EventFeatureProduct   = "feature_product"
	EventActivateOffer    = "activate_offer"
	EventClaimOffer       = "claim_offer"
	EventProductClick     = "product_click"
	EventCartAdd          = "cart_add"
	EventPinMessage       = "pin_message"
	EventHighlightMessage = "highlight_message"
)

// Outbound event kinds.
const (
	EventStreamJoined       = "stream_joined"
	EventStreamStarted      = "stream_started"
	EventStreamEnded        = "stream_ended"
	EventViewerCount        = "viewer_count_update"
	EventNewMessage         = "new_message"
	EventMessagePending     = "message_pending"
	EventReactionAdded      = "reaction_added"
	EventProductFeatured    = "product_featured"
	EventOfferActivated     = "offer_activated"
	EventOfferClaimed       = "offer_claimed"
	EventOfferExhausted     = "offer_exhausted"
	EventOfferUpdate        = "offer_update"
	EventMessagePinned      = "message_pinned"
	EventMessageHighlighted = "message_highlighted"
	EventError              = "error"
)

// Error codes carried by error events.
const (
	CodeBadRequest      = "bad_request"
	CodeNotFound        = "not_found"
	CodeForbidden       = "forbidden"
	CodeRateLimited     = "rate_limited"
	CodeUpstreamFailure = "upstream_failure"
)

// ErrorPayload is the data of an error event. Errors go only to the
// originating connection, never to the room.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Inbound payloads.

// JoinStreamPayload asks to join a stream's room.
type JoinStreamPayload struct {
	StreamID uuid.UUID `json:"stream_id"`
}

// LeaveStreamPayload asks to leave the current room.
type LeaveStreamPayload struct {
	StreamID uuid.UUID `json:"stream_id"`
}

// ResumeSessionPayload re-establishes presence from a prior session token.
type ResumeSessionPayload struct {
	SessionID uuid.UUID `json:"session_id"`
}

// SendMessagePayload carries a chat message.
type SendMessagePayload struct {
	StreamID uuid.UUID `json:"stream_id"`
	Body     string    `json:"body"`
}

// AddReactionPayload increments a reaction counter on a message.
type AddReactionPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Kind      string    `json:"kind"`
}

// FeatureProductPayload pins a product as the stream's featured product.
type FeatureProductPayload struct {
	StreamID  uuid.UUID `json:"stream_id"`
	ProductID uuid.UUID `json:"product_id"`
	Note      string    `json:"note"`
}

// ActivateOfferPayload marks an offer active.
type ActivateOfferPayload struct {
	OfferID uuid.UUID `json:"offer_id"`
}

// ClaimOfferPayload attempts to claim one unit of an offer.
type ClaimOfferPayload struct {
	OfferID uuid.UUID `json:"offer_id"`
}

// ProductEventPayload reports a product click or cart add.
type ProductEventPayload struct {
	StreamID  uuid.UUID `json:"stream_id"`
	ProductID uuid.UUID `json:"product_id"`
}

// PinMessagePayload pins a chat message (host only).
type PinMessagePayload struct {
	StreamID  uuid.UUID `json:"stream_id"`
	MessageID uuid.UUID `json:"message_id"`
}

// HighlightMessagePayload highlights a chat message (host only).
type HighlightMessagePayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

// Outbound payloads.

// StreamJoinedPayload acknowledges a join or resume to the caller.
type StreamJoinedPayload struct {
	Stream      *models.Stream `json:"stream"`
	ViewerCount int            `json:"viewer_count"`
	SessionID   uuid.UUID      `json:"session_id"`
}

// ViewerCountPayload announces the room's live viewer count.
type ViewerCountPayload struct {
	StreamID uuid.UUID `json:"stream_id"`
	Count    int       `json:"count"`
}

// ReactionAddedPayload announces a new reaction count.
type ReactionAddedPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Kind      string    `json:"kind"`
	Count     int       `json:"count"`
}

// OfferClaimedPayload delivers a redemption code to a successful claimer.
type OfferClaimedPayload struct {
	OfferID uuid.UUID `json:"offer_id"`
	Code    string    `json:"code"`
}

// OfferExhaustedPayload tells a claimer the offer ran out. This is a normal
// outcome, not an error.
type OfferExhaustedPayload struct {
	OfferID uuid.UUID `json:"offer_id"`
}

// OfferUpdatePayload announces new claim totals to the room.
// Remaining is nil for unlimited offers.
type OfferUpdatePayload struct {
	OfferID      uuid.UUID `json:"offer_id"`
	ClaimedCount int       `json:"claimed_count"`
	Remaining    *int      `json:"remaining,omitempty"`
}

// MessagePinnedPayload announces the stream's pinned message.
type MessagePinnedPayload struct {
	StreamID  uuid.UUID `json:"stream_id"`
	MessageID uuid.UUID `json:"message_id"`
}

// MessageHighlightedPayload announces a highlighted message.
type MessageHighlightedPayload struct {
	StreamID  uuid.UUID `json:"stream_id"`
	MessageID uuid.UUID `json:"message_id"`
}
