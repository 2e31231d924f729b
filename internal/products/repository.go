package products

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplive-labs/backend/internal/models"
)

const productColumns = `id, stream_id, product_id, name, price_cents, is_pinned,
	click_count, cart_add_count, featured_note, created_at, updated_at`

// Repository handles stream product persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stream products repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Add links a catalog product to a stream.
func (r *Repository) Add(ctx context.Context, p *models.StreamProduct) error {
	const q = `INSERT INTO stream_products (id, stream_id, product_id, name, price_cents)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		ON CONFLICT (stream_id, product_id) DO UPDATE SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents, updated_at = NOW()
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, p.StreamID, p.ProductID, p.Name, p.PriceCents).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// ListByStream returns all products linked to a stream.
func (r *Repository) ListByStream(ctx context.Context, streamID uuid.UUID) ([]models.StreamProduct, error) {
	q := `SELECT ` + productColumns + ` FROM stream_products WHERE stream_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, q, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.StreamProduct
	for rows.Next() {
		var p models.StreamProduct
		if err := rows.Scan(&p.ID, &p.StreamID, &p.ProductID, &p.Name, &p.PriceCents, &p.IsPinned,
			&p.ClickCount, &p.CartAddCount, &p.FeaturedNote, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// SetFeatured pins productID for the stream and unpins the rest in one
// transaction, preserving the single-pin invariant. Returns the featured row.
func (r *Repository) SetFeatured(ctx context.Context, streamID, productID uuid.UUID, note string) (*models.StreamProduct, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE stream_products SET is_pinned = FALSE, updated_at = NOW()
		 WHERE stream_id = $1 AND is_pinned AND product_id <> $2`,
		streamID, productID); err != nil {
		return nil, err
	}

	q := `UPDATE stream_products SET is_pinned = TRUE, featured_note = $3, updated_at = NOW()
		WHERE stream_id = $1 AND product_id = $2
		RETURNING ` + productColumns
	var p models.StreamProduct
	err = tx.QueryRow(ctx, q, streamID, productID, note).Scan(&p.ID, &p.StreamID, &p.ProductID,
		&p.Name, &p.PriceCents, &p.IsPinned, &p.ClickCount, &p.CartAddCount, &p.FeaturedNote,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &p, nil
}

// IncrementClicks increments click_count for a stream product.
func (r *Repository) IncrementClicks(ctx context.Context, streamID, productID uuid.UUID) error {
	const q = `UPDATE stream_products SET click_count = click_count + 1, updated_at = NOW()
		WHERE stream_id = $1 AND product_id = $2`
	_, err := r.pool.Exec(ctx, q, streamID, productID)
	return err
}

// IncrementCartAdds increments cart_add_count for a stream product.
func (r *Repository) IncrementCartAdds(ctx context.Context, streamID, productID uuid.UUID) error {
	const q = `UPDATE stream_products SET cart_add_count = cart_add_count + 1, updated_at = NOW()
		WHERE stream_id = $1 AND product_id = $2`
	_, err := r.pool.Exec(ctx, q, streamID, productID)
	return err
}
