package billing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/dmitrymomot/membergate/pkg/entitlement"
)

var (
	ErrCustomerMissing      = errors.New("billing customer missing at provider")
	ErrSessionNotFound      = errors.New("checkout session not found at provider")
	ErrSubscriptionNotFound = errors.New("subscription not found at provider")
	ErrBadSignature         = errors.New("billing webhook signature verification failed")
	ErrProvider             = errors.New("billing provider error")
)

// Customer is the provider's customer resource, reduced to the fields the
// engine consumes.
type Customer struct {
	ID      string
	Email   string
	Name    string
	Deleted bool
}

// CheckoutSession represents one attempted purchase.
type CheckoutSession struct {
	ID             string
	URL            string
	CustomerID     string
	SubscriptionID string
	Paid           bool
}

// Subscription is the provider's view of a recurring subscription. Status
// and PriceID are raw provider values; CurrentPeriodEnd is epoch seconds,
// zero when the provider did not report one.
type Subscription struct {
	ID               string
	CustomerID       string
	PriceID          string
	Status           string
	CurrentPeriodEnd int64
}

// PortalSession is a short-lived customer portal link.
type PortalSession struct {
	URL string
}

// Event is a verified webhook event. Data holds the provider object JSON;
// Created (epoch seconds) orders events across deliveries.
type Event struct {
	ID      string
	Type    string
	Created int64
	Data    json.RawMessage
}

// Client is the facade over the billing provider. Implementations must
// map provider-specific "resource missing" failures to the sentinel
// errors above.
type Client interface {
	CreateCustomer(ctx context.Context, email, name, userID string) (*Customer, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID string) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error)

	// ParseWebhookEvent verifies the signature and decodes the envelope.
	// Returns ErrBadSignature on verification failure.
	ParseWebhookEvent(payload []byte, signature string) (*Event, error)
}

// MapStatus converts a provider subscription status to the local enum by
// upper-casing. Every provider status has a 1:1 local counterpart;
// anything unrecognized passes through upper-cased and is denied paid
// access by the entitlement rules.
func MapStatus(providerStatus string) entitlement.Status {
	return entitlement.Status(strings.ToUpper(providerStatus))
}
