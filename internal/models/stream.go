package models

import (
	"time"

	"github.com/google/uuid"
)

// Stream status values.
const (
	StreamStatusScheduled = "scheduled"
	StreamStatusLive      = "live"
	StreamStatusEnded     = "ended"
)

// Stream represents a live-shopping broadcast session.
type Stream struct {
	ID                   uuid.UUID  `json:"id"`
	HostID               uuid.UUID  `json:"host_id"`
	Title                string     `json:"title"`
	Status               string     `json:"status"`
	AllowChat            bool       `json:"allow_chat"`
	ModeratedChat        bool       `json:"moderated_chat"`
	PeakViewers          int        `json:"peak_viewers"`
	TotalChatMessages    int        `json:"total_chat_messages"`
	TotalProductsClicked int        `json:"total_products_clicked"`
	TotalCartAdds        int        `json:"total_cart_adds"`
	CoverKey             string     `json:"cover_key,omitempty"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsLive reports whether the stream is currently broadcasting.
func (s *Stream) IsLive() bool { return s.Status == StreamStatusLive }
