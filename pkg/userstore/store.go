package userstore

import (
	"context"
	"errors"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("user already exists")

	// ErrStaleEvent signals a subscription write older than the state
	// already persisted. Callers treat it as a logged no-op, not a failure.
	ErrStaleEvent = errors.New("subscription event is stale")
)

// Store defines persistence for user records. Implementations must make
// every write safe under concurrent delivery of identity webhooks, billing
// webhooks, and checkout verification for the same user.
type Store interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByCustomerID(ctx context.Context, customerID string) (*User, error)

	// Create inserts a new row and returns ErrAlreadyExists when the id or
	// email is already taken, so callers can recover from creation races.
	Create(ctx context.Context, user *User) error

	// UpsertProfile inserts the row or updates only the identity-mirrored
	// profile fields, leaving billing fields untouched. Safe under replay.
	UpsertProfile(ctx context.Context, id, email, name, avatarURL string) error

	// Delete removes the row. A missing row is success: deletion webhooks
	// are replayed and the row may already be gone.
	Delete(ctx context.Context, id string) error

	// Rekey moves a row found by email to a new identity subject id,
	// recovering from identity-provider id churn.
	Rekey(ctx context.Context, oldID, newID string) error

	// SetBillingCustomer records the billing customer id for a user,
	// overwriting any previous value (self-healing path).
	SetBillingCustomer(ctx context.Context, id, customerID string) error

	// ApplySubscriptionState writes subscription fields for the row owned
	// by the billing customer. Returns ErrNotFound when no row matches and
	// ErrStaleEvent when state.Version is older than the stored version.
	ApplySubscriptionState(ctx context.Context, customerID string, state SubscriptionState) error

	// SetSubscriptionStatus updates only the lifecycle status, leaving the
	// tier untouched (grace-period handling is a status decision). Same
	// version guard as ApplySubscriptionState.
	SetSubscriptionStatus(ctx context.Context, customerID string, status entitlement.Status, version int64) error

	// ClearSubscription marks the subscription canceled and the tier free,
	// clearing subscription and price ids but retaining the customer id.
	// Same version guard as ApplySubscriptionState.
	ClearSubscription(ctx context.Context, customerID string, version int64) error
}
