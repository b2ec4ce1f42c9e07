package userstore

import (
	"time"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
)

// User mirrors identity-provider profile fields and carries the billing
// linkage for one identity subject. The ID is the identity provider's
// subject identifier and is never regenerated locally.
type User struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string

	// BillingCustomerID is set once a billing customer exists for this
	// user. It survives cancellation so resubscription reuses the same
	// customer. Empty means no customer yet.
	BillingCustomerID     string
	BillingSubscriptionID string
	BillingPriceID        string

	SubscriptionTier   entitlement.Tier
	SubscriptionStatus entitlement.Status
	CurrentPeriodEnd   *time.Time

	// SubscriptionVersion is the billing provider's event timestamp
	// (epoch seconds) of the last applied subscription write. Writes with
	// a lower version are rejected as stale.
	SubscriptionVersion int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscription returns the entitlement snapshot for this user, with the
// tier normalized at the read boundary.
func (u *User) Subscription() entitlement.Subscription {
	return entitlement.Subscription{
		Tier:             entitlement.NormalizeTier(u.SubscriptionTier),
		Status:           u.SubscriptionStatus,
		CurrentPeriodEnd: u.CurrentPeriodEnd,
	}
}

// SubscriptionState is the set of billing fields written atomically by the
// billing event receiver and the checkout verifier.
type SubscriptionState struct {
	SubscriptionID   string
	PriceID          string
	Tier             entitlement.Tier
	Status           entitlement.Status
	CurrentPeriodEnd *time.Time
	Version          int64
}
