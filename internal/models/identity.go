package models

import (
	"errors"

	"github.com/google/uuid"
)

// ErrNoIdentity is returned when neither a customer nor a guest id is present.
var ErrNoIdentity = errors.New("identity requires a customer id or a guest id")

// Identity is who a connection acts as: a customer account or an anonymous
// guest. Exactly one of CustomerID / GuestID is set.
type Identity struct {
	CustomerID *uuid.UUID `json:"customer_id,omitempty"`
	GuestID    *string    `json:"guest_id,omitempty"`
	GuestName  string     `json:"guest_name,omitempty"`
}

// CustomerIdentity returns an identity for a customer account.
func CustomerIdentity(customerID uuid.UUID) Identity {
	return Identity{CustomerID: &customerID}
}

// GuestIdentity returns an identity for an anonymous guest.
func GuestIdentity(guestID, guestName string) Identity {
	return Identity{GuestID: &guestID, GuestName: guestName}
}

// Valid reports whether exactly one of customer id / guest id is set.
func (i Identity) Valid() bool {
	hasCustomer := i.CustomerID != nil
	hasGuest := i.GuestID != nil && *i.GuestID != ""
	return hasCustomer != hasGuest
}

// IsGuest reports whether the identity is an anonymous guest.
func (i Identity) IsGuest() bool {
	return i.CustomerID == nil
}

// Key returns a stable string key for rate limiting and presence bookkeeping.
func (i Identity) Key() string {
	if i.CustomerID != nil {
		return "customer:" + i.CustomerID.String()
	}
	if i.GuestID != nil {
		return "guest:" + *i.GuestID
	}
	return ""
}

// DisplayName returns the name shown next to chat messages.
func (i Identity) DisplayName() string {
	if i.IsGuest() && i.GuestName != "" {
		return i.GuestName
	}
	if i.CustomerID != nil {
		return i.CustomerID.String()
	}
	return "guest"
}
