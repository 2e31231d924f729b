package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat message types.
const (
	MessageTypeText   = "text"
	MessageTypeSystem = "system"
)

// ChatMessage is one message in a stream's chat. Reactions maps a reaction
// kind (e.g. "heart", "fire") to its count.
type ChatMessage struct {
	ID            uuid.UUID      `json:"id"`
	StreamID      uuid.UUID      `json:"stream_id"`
	CustomerID    *uuid.UUID     `json:"customer_id,omitempty"`
	GuestName     *string        `json:"guest_name,omitempty"`
	Body          string         `json:"body"`
	Type          string         `json:"type"`
	IsModerated   bool           `json:"is_moderated"`
	IsPinned      bool           `json:"is_pinned"`
	IsHighlighted bool           `json:"is_highlighted"`
	Reactions     map[string]int `json:"reactions"`
	CreatedAt     time.Time      `json:"created_at"`
}

// SenderName returns the display name for the message sender.
func (m *ChatMessage) SenderName() string {
	if m.GuestName != nil && *m.GuestName != "" {
		return *m.GuestName
	}
	if m.CustomerID != nil {
		return m.CustomerID.String()
	}
	return "guest"
}
