package models

import (
	"time"

	"github.com/google/uuid"
)

// StreamProduct links a catalog product to a stream. At most one product per
// stream is pinned (featured) at a time.
type StreamProduct struct {
	ID           uuid.UUID `json:"id"`
	StreamID     uuid.UUID `json:"stream_id"`
	ProductID    uuid.UUID `json:"product_id"`
	Name         string    `json:"name"`
	PriceCents   int       `json:"price_cents"`
	IsPinned     bool      `json:"is_pinned"`
	ClickCount   int       `json:"click_count"`
	CartAddCount int       `json:"cart_add_count"`
	FeaturedNote string    `json:"featured_note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
