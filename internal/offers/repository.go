package offers

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplive-labs/backend/internal/models"
)

const offerColumns = `id, stream_id, title, code, quantity_limit, claimed_count,
	is_active, banner_key, created_at, updated_at`

// ClaimResult is the outcome of a conditional claim increment.
type ClaimResult struct {
	Claimed  bool
	NewCount int
}

// Repository handles offer persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an offer repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NewRedemptionCode returns a random 10-hex-char redemption code.
func NewRedemptionCode() string {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func scanOffer(row pgx.Row) (*models.Offer, error) {
	var o models.Offer
	err := row.Scan(&o.ID, &o.StreamID, &o.Title, &o.Code, &o.QuantityLimit, &o.ClaimedCount,
		&o.IsActive, &o.BannerKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// Create inserts a new offer. A redemption code is generated when empty.
func (r *Repository) Create(ctx context.Context, o *models.Offer) error {
	const q = `INSERT INTO offers (id, stream_id, title, code, quantity_limit)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	if o.Code == "" {
		o.Code = NewRedemptionCode()
	}
	return r.pool.QueryRow(ctx, q, o.StreamID, o.Title, o.Code, o.QuantityLimit).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

// GetByID returns an offer by ID, or (nil, nil) if absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`
	return scanOffer(r.pool.QueryRow(ctx, q, id))
}

// ListByStream returns all offers of a stream.
func (r *Repository) ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.Offer, error) {
	q := `SELECT ` + offerColumns + ` FROM offers WHERE stream_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Offer
	for rows.Next() {
		var o models.Offer
		if err := rows.Scan(&o.ID, &o.StreamID, &o.Title, &o.Code, &o.QuantityLimit, &o.ClaimedCount,
			&o.IsActive, &o.BannerKey, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// Activate marks an offer active. Returns pgx.ErrNoRows if the offer is absent.
func (r *Repository) Activate(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE offers SET is_active = TRUE, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ConditionallyIncrementClaim reserves one unit of an offer's quantity as a
// single conditional UPDATE: the increment only lands while claimed_count is
// still below quantity_limit, so concurrent claimers can never oversell.
// A zero-row update means the offer is exhausted or inactive.
func (r *Repository) ConditionallyIncrementClaim(ctx context.Context, id uuid.UUID) (ClaimResult, error) {
	const q = `UPDATE offers
		SET claimed_count = claimed_count + 1, updated_at = NOW()
		WHERE id = $1 AND is_active
			AND (quantity_limit IS NULL OR claimed_count < quantity_limit)
		RETURNING claimed_count`
	var newCount int
	err := r.pool.QueryRow(ctx, q, id).Scan(&newCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ClaimResult{Claimed: false}, nil
		}
		return ClaimResult{}, err
	}
	return ClaimResult{Claimed: true, NewCount: newCount}, nil
}

// RecordClaim stores a successful claim by an identity.
func (r *Repository) RecordClaim(ctx context.Context, offerID uuid.UUID, identity models.Identity) error {
	const q = `INSERT INTO offer_claims (id, offer_id, customer_id, guest_id)
		VALUES (gen_random_uuid(), $1, $2, $3)`
	_, err := r.pool.Exec(ctx, q, offerID, identity.CustomerID, identity.GuestID)
	return err
}

// SetBannerKey stores the S3 object key of the offer banner image.
func (r *Repository) SetBannerKey(ctx context.Context, id uuid.UUID, key string) error {
	const q = `UPDATE offers SET banner_key = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, key, id)
	return err
}
