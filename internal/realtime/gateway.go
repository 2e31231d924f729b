package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shoplive-labs/backend/internal/models"
	"github.com/shoplive-labs/backend/pkg/queue"
)

// ErrNotFound is returned by Store implementations when the referenced
// entity does not exist.
var ErrNotFound = errors.New("not found")

// ClaimResult is the outcome of a conditional offer claim increment.
type ClaimResult struct {
	Claimed  bool
	NewCount int
}

// Store is the persistence gateway consumed by the coordinator. The durable
// store (streams, viewers, chat, offers, products) is owned by the wider
// commerce platform; the coordinator only reads and increments through this
// interface. Lookups return (nil, nil) when the entity is absent; mutations
// against absent entities return ErrNotFound. Implementations bound every
// call with a timeout, so a hung backend surfaces as an error here rather
// than a stuck client event.
type Store interface {
	GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error)

	UpsertViewerRecord(ctx context.Context, streamID uuid.UUID, identity models.Identity, joinedAt time.Time) (uuid.UUID, error)
	CloseViewerRecord(ctx context.Context, streamID uuid.UUID, identity models.Identity, leftAt time.Time) error
	GetOpenViewerRecord(ctx context.Context, recordID uuid.UUID) (*models.ViewerRecord, error)
	UpdatePeakViewers(ctx context.Context, streamID uuid.UUID, count int) error

	CreateChatMessage(ctx context.Context, m *models.ChatMessage) error
	GetChatMessage(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error)
	PinChatMessage(ctx context.Context, streamID, messageID uuid.UUID) error
	HighlightChatMessage(ctx context.Context, messageID uuid.UUID) error
	IncrementReaction(ctx context.Context, messageID uuid.UUID, kind string) (int, error)
	IncrementChatCounter(ctx context.Context, streamID uuid.UUID) error

	GetOffer(ctx context.Context, id uuid.UUID) (*models.Offer, error)
	ActivateOffer(ctx context.Context, id uuid.UUID) error
	ConditionallyIncrementOfferClaim(ctx context.Context, id uuid.UUID) (ClaimResult, error)
	RecordOfferClaim(ctx context.Context, offerID uuid.UUID, identity models.Identity) error

	SetFeaturedProduct(ctx context.Context, streamID, productID uuid.UUID, note string) (*models.StreamProduct, error)
}

// AnalyticsQueue receives fire-and-forget product analytics events.
type AnalyticsQueue interface {
	EnqueueProductEvent(ctx context.Context, payload queue.ProductEventPayload) error
}

// ChatLimiter admits or rejects chat messages per identity key.
type ChatLimiter interface {
	Allow(identityKey string) bool
}
