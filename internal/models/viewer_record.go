package models

import (
	"time"

	"github.com/google/uuid"
)

// ViewerRecord is the durable mirror of an in-memory viewer session:
// one row per (stream, identity) visit, opened on join and closed on leave.
// An open record (LeftAt nil) doubles as a session-resumption token.
type ViewerRecord struct {
	ID         uuid.UUID  `json:"id"`
	StreamID   uuid.UUID  `json:"stream_id"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	GuestID    *string    `json:"guest_id,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
}

// Identity reconstructs the identity stored on the record.
func (v *ViewerRecord) Identity() Identity {
	if v.CustomerID != nil {
		return CustomerIdentity(*v.CustomerID)
	}
	if v.GuestID != nil {
		return GuestIdentity(*v.GuestID, "")
	}
	return Identity{}
}
