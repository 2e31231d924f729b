package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shoplive-labs/backend/internal/chat"
	"github.com/shoplive-labs/backend/internal/models"
	"github.com/shoplive-labs/backend/internal/offers"
	"github.com/shoplive-labs/backend/internal/products"
	"github.com/shoplive-labs/backend/internal/realtime"
	"github.com/shoplive-labs/backend/internal/streams"
	"github.com/shoplive-labs/backend/internal/viewers"
)

// Store adapts the Postgres repositories to the realtime coordinator's
// gateway interface. Every call is bounded by a timeout so a slow backend
// turns into an error instead of a wedged event loop, and repository
// "no rows" signals are normalized to realtime.ErrNotFound.
type Store struct {
	streams  *streams.Repository
	viewers  *viewers.Repository
	chat     *chat.Repository
	offers   *offers.Repository
	products *products.Repository
	timeout  time.Duration
}

// New creates the store adapter. timeout bounds every backend call.
func New(
	streamsRepo *streams.Repository,
	viewersRepo *viewers.Repository,
	chatRepo *chat.Repository,
	offersRepo *offers.Repository,
	productsRepo *products.Repository,
	timeout time.Duration,
) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		streams:  streamsRepo,
		viewers:  viewersRepo,
		chat:     chatRepo,
		offers:   offersRepo,
		products: productsRepo,
		timeout:  timeout,
	}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return realtime.ErrNotFound
	}
	return err
}

func (s *Store) GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.streams.GetByID(ctx, id)
}

func (s *Store) UpsertViewerRecord(ctx context.Context, streamID uuid.UUID, identity models.Identity, joinedAt time.Time) (uuid.UUID, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.viewers.Upsert(ctx, streamID, identity, joinedAt)
}

func (s *Store) CloseViewerRecord(ctx context.Context, streamID uuid.UUID, identity models.Identity, leftAt time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.viewers.Close(ctx, streamID, identity, leftAt)
}

func (s *Store) GetOpenViewerRecord(ctx context.Context, recordID uuid.UUID) (*models.ViewerRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.viewers.GetOpen(ctx, recordID)
}

func (s *Store) UpdatePeakViewers(ctx context.Context, streamID uuid.UUID, count int) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.streams.UpdatePeakViewers(ctx, streamID, count)
}

func (s *Store) CreateChatMessage(ctx context.Context, m *models.ChatMessage) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.chat.Create(ctx, m)
}

func (s *Store) GetChatMessage(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.chat.GetByID(ctx, id)
}

func (s *Store) PinChatMessage(ctx context.Context, streamID, messageID uuid.UUID) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return mapNoRows(s.chat.Pin(ctx, streamID, messageID))
}

func (s *Store) HighlightChatMessage(ctx context.Context, messageID uuid.UUID) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return mapNoRows(s.chat.Highlight(ctx, messageID))
}

func (s *Store) IncrementReaction(ctx context.Context, messageID uuid.UUID, kind string) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	count, err := s.chat.IncrementReaction(ctx, messageID, kind)
	return count, mapNoRows(err)
}

func (s *Store) IncrementChatCounter(ctx context.Context, streamID uuid.UUID) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.streams.IncrementChatCounter(ctx, streamID)
}

func (s *Store) GetOffer(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.offers.GetByID(ctx, id)
}

func (s *Store) ActivateOffer(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return mapNoRows(s.offers.Activate(ctx, id))
}

func (s *Store) ConditionallyIncrementOfferClaim(ctx context.Context, id uuid.UUID) (realtime.ClaimResult, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	res, err := s.offers.ConditionallyIncrementClaim(ctx, id)
	return realtime.ClaimResult{Claimed: res.Claimed, NewCount: res.NewCount}, err
}

func (s *Store) RecordOfferClaim(ctx context.Context, offerID uuid.UUID, identity models.Identity) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.offers.RecordClaim(ctx, offerID, identity)
}

func (s *Store) SetFeaturedProduct(ctx context.Context, streamID, productID uuid.UUID, note string) (*models.StreamProduct, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.products.SetFeatured(ctx, streamID, productID, note)
}
