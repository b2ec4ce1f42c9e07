package entitlement

import "time"

// Tier represents the subscription plan level a user is provisioned for.
type Tier string

const (
	TierFree Tier = "FREE"
	TierPro  Tier = "PRO"

	// tierTeam is a retired plan label that may still exist in old rows
	// and replayed webhook payloads. It is never written back; reads
	// normalize it to TierPro.
	tierTeam Tier = "TEAM"
)

// Status represents the billing lifecycle state of a subscription,
// independent of tier. Values mirror the billing provider's subscription
// statuses upper-cased, plus StatusFree for users without a subscription.
type Status string

const (
	StatusFree              Status = "FREE"
	StatusActive            Status = "ACTIVE"
	StatusTrialing          Status = "TRIALING"
	StatusPastDue           Status = "PAST_DUE"
	StatusCanceled          Status = "CANCELED"
	StatusIncomplete        Status = "INCOMPLETE"
	StatusIncompleteExpired Status = "INCOMPLETE_EXPIRED"
	StatusUnpaid            Status = "UNPAID"
)

// Subscription is the read-model snapshot fed into access decisions.
type Subscription struct {
	Tier             Tier       `json:"tier"`
	Status           Status     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}

// Anonymous returns the synthetic snapshot used for unauthenticated
// visitors and as the safe fallback when subscription state is unavailable.
func Anonymous() Subscription {
	return Subscription{Tier: TierFree, Status: StatusFree}
}
