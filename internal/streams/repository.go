package streams

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplive-labs/backend/internal/models"
)

const streamColumns = `id, host_id, title, status, allow_chat, moderated_chat,
	peak_viewers, total_chat_messages, total_products_clicked, total_cart_adds,
	cover_key, started_at, ended_at, created_at, updated_at`

// Repository handles stream persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a stream repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanStream(row pgx.Row) (*models.Stream, error) {
	var s models.Stream
	err := row.Scan(&s.ID, &s.HostID, &s.Title, &s.Status, &s.AllowChat, &s.ModeratedChat,
		&s.PeakViewers, &s.TotalChatMessages, &s.TotalProductsClicked, &s.TotalCartAdds,
		&s.CoverKey, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Create inserts a new stream.
func (r *Repository) Create(ctx context.Context, s *models.Stream) error {
	const q = `INSERT INTO streams (id, host_id, title, status, allow_chat, moderated_chat)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	if s.Status == "" {
		s.Status = models.StreamStatusScheduled
	}
	return r.pool.QueryRow(ctx, q, s.HostID, s.Title, s.Status, s.AllowChat, s.ModeratedChat).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a stream by ID, or (nil, nil) if absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	q := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1`
	return scanStream(r.pool.QueryRow(ctx, q, id))
}

// List returns streams, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status string) ([]models.Stream, error) {
	q := `SELECT ` + streamColumns + ` FROM streams`
	var args []interface{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Stream
	for rows.Next() {
		var s models.Stream
		if err := rows.Scan(&s.ID, &s.HostID, &s.Title, &s.Status, &s.AllowChat, &s.ModeratedChat,
			&s.PeakViewers, &s.TotalChatMessages, &s.TotalProductsClicked, &s.TotalCartAdds,
			&s.CoverKey, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Update updates title and chat flags.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, title string, allowChat, moderatedChat *bool) error {
	const q = `UPDATE streams SET
		title = COALESCE(NULLIF($1, ''), title),
		allow_chat = COALESCE($2, allow_chat),
		moderated_chat = COALESCE($3, moderated_chat),
		updated_at = NOW()
		WHERE id = $4`
	_, err := r.pool.Exec(ctx, q, title, allowChat, moderatedChat, id)
	return err
}

// Start marks a stream live.
func (r *Repository) Start(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE streams SET status = 'live', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stream %s is not scheduled", id)
	}
	return nil
}

// End marks a stream ended.
func (r *Repository) End(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE streams SET status = 'ended', ended_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'live'`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stream %s is not live", id)
	}
	return nil
}

// UpdatePeakViewers raises peak_viewers to count. The high-water mark only
// moves up: the conditional guards against late writers lowering it.
func (r *Repository) UpdatePeakViewers(ctx context.Context, id uuid.UUID, count int) error {
	const q = `UPDATE streams SET peak_viewers = $1, updated_at = NOW()
		WHERE id = $2 AND $1 > peak_viewers`
	_, err := r.pool.Exec(ctx, q, count, id)
	return err
}

// IncrementChatCounter increments total_chat_messages.
func (r *Repository) IncrementChatCounter(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE streams SET total_chat_messages = total_chat_messages + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// IncrementProductsClicked increments total_products_clicked.
func (r *Repository) IncrementProductsClicked(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE streams SET total_products_clicked = total_products_clicked + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// IncrementCartAdds increments total_cart_adds.
func (r *Repository) IncrementCartAdds(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE streams SET total_cart_adds = total_cart_adds + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// SetCoverKey stores the S3 object key of the stream cover image.
func (r *Repository) SetCoverKey(ctx context.Context, id uuid.UUID, key string) error {
	const q = `UPDATE streams SET cover_key = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, key, id)
	return err
}
