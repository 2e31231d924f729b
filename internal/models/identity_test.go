package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIdentity_Valid(t *testing.T) {
	customerID := uuid.New()
	guestID := "g-123"

	assert.True(t, CustomerIdentity(customerID).Valid())
	assert.True(t, GuestIdentity(guestID, "Ana").Valid())

	assert.False(t, Identity{}.Valid(), "empty identity is invalid")
	assert.False(t, Identity{CustomerID: &customerID, GuestID: &guestID}.Valid(),
		"customer and guest at once is invalid")
}

func TestIdentity_KeyIsStableAndPrefixed(t *testing.T) {
	customerID := uuid.New()

	c := CustomerIdentity(customerID)
	assert.Equal(t, "customer:"+customerID.String(), c.Key())
	assert.Equal(t, c.Key(), c.Key())

	g := GuestIdentity("abc", "Ana")
	assert.Equal(t, "guest:abc", g.Key())

	// a guest id equal to a customer uuid must not collide
	sameText := GuestIdentity(customerID.String(), "")
	assert.NotEqual(t, c.Key(), sameText.Key())
}

func TestIdentity_DisplayName(t *testing.T) {
	assert.Equal(t, "Ana", GuestIdentity("g1", "Ana").DisplayName())

	anon := GuestIdentity("g2", "")
	assert.Equal(t, "guest", anon.DisplayName())

	customerID := uuid.New()
	assert.Equal(t, customerID.String(), CustomerIdentity(customerID).DisplayName())
}
