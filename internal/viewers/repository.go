package viewers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplive-labs/backend/internal/models"
)

// Repository handles viewer record persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a viewer records repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert opens a viewer record for (stream, identity). If an open record
// already exists (e.g. a reconnect racing the old connection's cleanup) it is
// reused instead of inserting a duplicate. Returns the record id.
func (r *Repository) Upsert(ctx context.Context, streamID uuid.UUID, identity models.Identity, joinedAt time.Time) (uuid.UUID, error) {
	const find = `SELECT id FROM viewer_records
		WHERE stream_id = $1 AND left_at IS NULL
			AND customer_id IS NOT DISTINCT FROM $2
			AND guest_id IS NOT DISTINCT FROM $3
		ORDER BY joined_at DESC LIMIT 1`
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, find, streamID, identity.CustomerID, identity.GuestID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != pgx.ErrNoRows {
		return uuid.Nil, err
	}

	const insert = `INSERT INTO viewer_records (id, stream_id, customer_id, guest_id, joined_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id`
	err = r.pool.QueryRow(ctx, insert, streamID, identity.CustomerID, identity.GuestID, joinedAt).Scan(&id)
	return id, err
}

// Close sets left_at on the most recent open record for (stream, identity).
func (r *Repository) Close(ctx context.Context, streamID uuid.UUID, identity models.Identity, leftAt time.Time) error {
	const q = `UPDATE viewer_records v SET left_at = $4
		FROM (SELECT id FROM viewer_records
			WHERE stream_id = $1 AND left_at IS NULL
				AND customer_id IS NOT DISTINCT FROM $2
				AND guest_id IS NOT DISTINCT FROM $3
			ORDER BY joined_at DESC LIMIT 1) AS open
		WHERE v.id = open.id`
	_, err := r.pool.Exec(ctx, q, streamID, identity.CustomerID, identity.GuestID, leftAt)
	return err
}

// GetOpen returns an open viewer record by id, or (nil, nil) when the record
// is absent or already closed. Used for session resumption.
func (r *Repository) GetOpen(ctx context.Context, id uuid.UUID) (*models.ViewerRecord, error) {
	const q = `SELECT id, stream_id, customer_id, guest_id, joined_at, left_at
		FROM viewer_records WHERE id = $1 AND left_at IS NULL`
	var v models.ViewerRecord
	err := r.pool.QueryRow(ctx, q, id).Scan(&v.ID, &v.StreamID, &v.CustomerID, &v.GuestID, &v.JoinedAt, &v.LeftAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

// CountDistinctByStream returns the number of distinct identities that ever
// joined a stream (for analytics).
func (r *Repository) CountDistinctByStream(ctx context.Context, streamID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(DISTINCT COALESCE(customer_id::text, guest_id))
		FROM viewer_records WHERE stream_id = $1`
	var n int
	err := r.pool.QueryRow(ctx, q, streamID).Scan(&n)
	return n, err
}
