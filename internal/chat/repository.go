package chat

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplive-labs/backend/internal/models"
)

const messageColumns = `id, stream_id, customer_id, guest_name, body, type,
	is_moderated, is_pinned, is_highlighted, reactions, created_at`

// Repository handles chat message persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanMessage(row pgx.Row) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := row.Scan(&m.ID, &m.StreamID, &m.CustomerID, &m.GuestName, &m.Body, &m.Type,
		&m.IsModerated, &m.IsPinned, &m.IsHighlighted, &m.Reactions, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// Create inserts a new chat message.
func (r *Repository) Create(ctx context.Context, m *models.ChatMessage) error {
	const q = `INSERT INTO chat_messages (id, stream_id, customer_id, guest_name, body, type, is_moderated)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	if m.Type == "" {
		m.Type = models.MessageTypeText
	}
	if m.Reactions == nil {
		m.Reactions = map[string]int{}
	}
	return r.pool.QueryRow(ctx, q, m.StreamID, m.CustomerID, m.GuestName, m.Body, m.Type, m.IsModerated).
		Scan(&m.ID, &m.CreatedAt)
}

// GetByID returns a message by ID, or (nil, nil) if absent.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	q := `SELECT ` + messageColumns + ` FROM chat_messages WHERE id = $1`
	return scanMessage(r.pool.QueryRow(ctx, q, id))
}

// ListByStream returns the most recent messages for a stream, oldest first.
// Moderated (pending) messages are excluded unless includeModerated is set.
func (r *Repository) ListByStream(ctx context.Context, streamID uuid.UUID, limit int, includeModerated bool) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + messageColumns + ` FROM chat_messages WHERE stream_id = $1`
	if !includeModerated {
		q += ` AND NOT is_moderated`
	}
	q += ` ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, streamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.StreamID, &m.CustomerID, &m.GuestName, &m.Body, &m.Type,
			&m.IsModerated, &m.IsPinned, &m.IsHighlighted, &m.Reactions, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to oldest-first for rendering
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

// Approve clears the moderation flag, releasing a pending message.
func (r *Repository) Approve(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE chat_messages SET is_moderated = FALSE WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// Pin pins messageID and unpins every other message of the stream in one
// transaction, preserving the single-pin invariant.
func (r *Repository) Pin(ctx context.Context, streamID, messageID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE chat_messages SET is_pinned = FALSE WHERE stream_id = $1 AND is_pinned AND id <> $2`,
		streamID, messageID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE chat_messages SET is_pinned = TRUE WHERE id = $1 AND stream_id = $2`,
		messageID, streamID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return tx.Commit(ctx)
}

// Highlight marks a message highlighted.
func (r *Repository) Highlight(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE chat_messages SET is_highlighted = TRUE WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IncrementReaction bumps one reaction counter inside the JSONB map and
// returns the new count.
func (r *Repository) IncrementReaction(ctx context.Context, id uuid.UUID, kind string) (int, error) {
	const q = `UPDATE chat_messages
		SET reactions = jsonb_set(reactions, ARRAY[$2],
			(COALESCE((reactions->>$2)::int, 0) + 1)::text::jsonb)
		WHERE id = $1
		RETURNING (reactions->>$2)::int`
	var count int
	err := r.pool.QueryRow(ctx, q, id, kind).Scan(&count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, pgx.ErrNoRows
		}
		return 0, err
	}
	return count, nil
}
