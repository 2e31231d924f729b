package models

import (
	"time"

	"github.com/google/uuid"
)

// Offer is a stream-scoped, optionally quantity-limited promotion.
// QuantityLimit nil means unlimited. ClaimedCount never exceeds QuantityLimit.
type Offer struct {
	ID            uuid.UUID `json:"id"`
	StreamID      uuid.UUID `json:"stream_id"`
	Title         string    `json:"title"`
	Code          string    `json:"code"`
	QuantityLimit *int      `json:"quantity_limit,omitempty"`
	ClaimedCount  int       `json:"claimed_count"`
	IsActive      bool      `json:"is_active"`
	BannerKey     string    `json:"banner_key,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Remaining returns the units left, or nil for unlimited offers.
func (o *Offer) Remaining() *int {
	if o.QuantityLimit == nil {
		return nil
	}
	rem := *o.QuantityLimit - o.ClaimedCount
	if rem < 0 {
		rem = 0
	}
	return &rem
}

// OfferClaim records one successful claim of an offer by an identity.
type OfferClaim struct {
	ID         uuid.UUID  `json:"id"`
	OfferID    uuid.UUID  `json:"offer_id"`
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	GuestID    *string    `json:"guest_id,omitempty"`
	ClaimedAt  time.Time  `json:"claimed_at"`
}
