package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83"
	stripeclient "github.com/stripe/stripe-go/v83/client"
	"github.com/stripe/stripe-go/v83/webhook"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`

	CheckoutSuccessURL string `env:"STRIPE_CHECKOUT_SUCCESS_URL,required"` // must contain {CHECKOUT_SESSION_ID} placeholder
	CheckoutCancelURL  string `env:"STRIPE_CHECKOUT_CANCEL_URL,required"`
	PortalReturnURL    string `env:"STRIPE_PORTAL_RETURN_URL,required"`
}

// StripeClient implements Client over the official Stripe SDK. The SDK
// client is owned by this struct and injected where needed; no global API
// key is set.
type StripeClient struct {
	api *stripeclient.API
	cfg StripeConfig
}

// NewStripeClient creates a Stripe-backed billing client.
func NewStripeClient(cfg StripeConfig) (*StripeClient, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	api := &stripeclient.API{}
	api.Init(cfg.SecretKey, nil)

	return &StripeClient{api: api, cfg: cfg}, nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, name, userID string) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	// The user id in metadata lets support trace a customer back to the
	// identity subject without touching the database.
	params.AddMetadata("user_id", userID)

	cus, err := c.api.Customers.New(params)
	if err != nil {
		return nil, errors.Join(ErrProvider, err)
	}
	return mapCustomer(cus), nil
}

func (c *StripeClient) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx

	cus, err := c.api.Customers.Get(id, params)
	if err != nil {
		return nil, translateErr(err, ErrCustomerMissing)
	}
	if cus.Deleted {
		// Stripe returns deleted customers as a tombstone instead of a
		// 404; treat them the same as missing so callers self-heal.
		return nil, ErrCustomerMissing
	}
	return mapCustomer(cus), nil
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, customerID, priceID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.CheckoutSuccessURL),
		CancelURL:  stripe.String(c.cfg.CheckoutCancelURL),
	}
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, errors.Join(ErrProvider, err)
	}
	return mapCheckoutSession(sess), nil
}

func (c *StripeClient) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, translateErr(err, ErrSessionNotFound)
	}
	return mapCheckoutSession(sess), nil
}

func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, translateErr(err, ErrSubscriptionNotFound)
	}
	return mapSubscription(sub), nil
}

func (c *StripeClient) CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(c.cfg.PortalReturnURL),
	}
	params.Context = ctx

	sess, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return nil, translateErr(err, ErrCustomerMissing)
	}
	return &PortalSession{URL: sess.URL}, nil
}

func (c *StripeClient) ParseWebhookEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, c.cfg.WebhookSecret)
	if err != nil {
		return nil, errors.Join(ErrBadSignature, err)
	}

	out := &Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: event.Created,
	}
	if event.Data != nil {
		out.Data = event.Data.Raw
	}
	return out, nil
}

func mapCustomer(cus *stripe.Customer) *Customer {
	return &Customer{
		ID:      cus.ID,
		Email:   cus.Email,
		Name:    cus.Name,
		Deleted: cus.Deleted,
	}
}

func mapCheckoutSession(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:   sess.ID,
		URL:  sess.URL,
		Paid: sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	return out
}

func mapSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.CurrentPeriodEnd = item.CurrentPeriodEnd
	}
	return out
}

// translateErr maps the provider's structured error to the tagged sentinel
// for the call site. Anything that is not a "resource missing" report is
// wrapped as a generic provider error.
func translateErr(err error, missing error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) && sErr.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%w: %s", missing, sErr.Msg)
	}
	return errors.Join(ErrProvider, err)
}
