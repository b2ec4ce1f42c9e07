package billingevents

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/membergate/pkg/billing"
	"github.com/dmitrymomot/membergate/pkg/entitlement"
	"github.com/dmitrymomot/membergate/pkg/logger"
	"github.com/dmitrymomot/membergate/pkg/plan"
	"github.com/dmitrymomot/membergate/pkg/userstore"
)

// ErrBadPayload reports an event body that could not be decoded. The
// HTTP layer maps it to a client error instead of requesting redelivery.
var ErrBadPayload = errors.New("malformed billing event payload")

// Invalidator drops cached subscription state for a user after a write.
// Satisfied by subcache.Cache; a nil Invalidator disables invalidation.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type handlerFunc func(ctx context.Context, event *billing.Event) error

// Receiver processes billing webhooks. Dispatch is an explicit table from
// event type to handler; unknown types are logged and accepted so new
// provider events never break delivery.
type Receiver struct {
	store    userstore.Store
	client   billing.Client
	catalog  plan.Catalog
	cache    Invalidator
	log      *slog.Logger
	handlers map[string]handlerFunc
}

// NewReceiver creates a billing webhook receiver. Panics on nil required
// dependencies to fail fast during initialization.
func NewReceiver(store userstore.Store, client billing.Client, catalog plan.Catalog, cache Invalidator, log *slog.Logger) *Receiver {
	if store == nil {
		panic("billingevents: userstore.Store is required")
	}
	if client == nil {
		panic("billingevents: billing.Client is required")
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Receiver{
		store:   store,
		client:  client,
		catalog: catalog,
		cache:   cache,
		log:     log,
	}
	r.handlers = map[string]handlerFunc{
		"customer.subscription.created": r.handleSubscriptionChange,
		"customer.subscription.updated": r.handleSubscriptionChange,
		"customer.subscription.deleted": r.handleSubscriptionDeleted,
		"invoice.payment_succeeded":     r.handlePaymentSucceeded,
		"invoice.payment_failed":        r.handlePaymentFailed,
	}
	return r
}

// Handle verifies and dispatches one webhook delivery. A returned error
// other than billing.ErrBadSignature means the write failed and the
// provider should redeliver.
func (r *Receiver) Handle(ctx context.Context, payload []byte, signature string) error {
	event, err := r.client.ParseWebhookEvent(payload, signature)
	if err != nil {
		return err
	}

	handler, ok := r.handlers[event.Type]
	if !ok {
		r.log.InfoContext(ctx, "ignoring unhandled billing event",
			logger.EventType(event.Type), slog.String("event_id", event.ID))
		return nil
	}

	return handler(ctx, event)
}

// subscriptionPayload is the subset of the provider's subscription object
// the engine consumes.
type subscriptionPayload struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Items    struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p subscriptionPayload) priceID() string {
	if len(p.Items.Data) == 0 {
		return ""
	}
	return p.Items.Data[0].Price.ID
}

func (p subscriptionPayload) periodEnd() *time.Time {
	if len(p.Items.Data) == 0 || p.Items.Data[0].CurrentPeriodEnd <= 0 {
		return nil
	}
	t := time.Unix(p.Items.Data[0].CurrentPeriodEnd, 0).UTC()
	return &t
}

func (r *Receiver) handleSubscriptionChange(ctx context.Context, event *billing.Event) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	if sub.Customer == "" {
		r.log.WarnContext(ctx, "subscription event without customer id",
			logger.EventType(event.Type), slog.String("event_id", event.ID))
		return nil
	}

	state := userstore.SubscriptionState{
		SubscriptionID:   sub.ID,
		PriceID:          sub.priceID(),
		Tier:             r.tierFor(ctx, sub.priceID()),
		Status:           billing.MapStatus(sub.Status),
		CurrentPeriodEnd: sub.periodEnd(),
		Version:          event.Created,
	}

	return r.apply(ctx, event, sub.Customer, state)
}

func (r *Receiver) handleSubscriptionDeleted(ctx context.Context, event *billing.Event) error {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		return errors.Join(ErrBadPayload, err)
	}

	err := r.store.ClearSubscription(ctx, sub.Customer, event.Created)
	if r.ignorable(ctx, event, sub.Customer, err) {
		return nil
	}
	if err != nil {
		return err
	}

	r.invalidate(ctx, sub.Customer)
	return nil
}

// invoicePayload carries the subscription reference of an invoice event.
// Newer provider API versions nest the reference under parent details, so
// both locations are read.
type invoicePayload struct {
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (p invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return p.Subscription
	}
	return p.Parent.SubscriptionDetails.Subscription
}

func (r *Receiver) handlePaymentSucceeded(ctx context.Context, event *billing.Event) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data, &inv); err != nil {
		return errors.Join(ErrBadPayload, err)
	}

	subID := inv.subscriptionID()
	if subID == "" {
		// One-off invoices carry no subscription; nothing to reconcile.
		r.log.InfoContext(ctx, "invoice event without subscription reference",
			logger.EventType(event.Type), slog.String("event_id", event.ID))
		return nil
	}

	// Invoice and subscription events race each other; the provider's
	// current subscription state wins over whatever the invoice implies.
	sub, err := r.client.GetSubscription(ctx, subID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			r.log.WarnContext(ctx, "invoice references unknown subscription",
				slog.String("subscription_id", subID), logger.Error(err))
			return nil
		}
		return err
	}

	state := userstore.SubscriptionState{
		SubscriptionID:   sub.ID,
		PriceID:          sub.PriceID,
		Tier:             r.tierFor(ctx, sub.PriceID),
		Status:           billing.MapStatus(sub.Status),
		CurrentPeriodEnd: epochToTime(sub.CurrentPeriodEnd),
		Version:          event.Created,
	}

	customerID := sub.CustomerID
	if customerID == "" {
		customerID = inv.Customer
	}
	return r.apply(ctx, event, customerID, state)
}

func (r *Receiver) handlePaymentFailed(ctx context.Context, event *billing.Event) error {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data, &inv); err != nil {
		return errors.Join(ErrBadPayload, err)
	}

	// Status only: a user in grace period keeps the tier, and the
	// entitlement rules deny access on PAST_DUE.
	err := r.store.SetSubscriptionStatus(ctx, inv.Customer, entitlement.StatusPastDue, event.Created)
	if r.ignorable(ctx, event, inv.Customer, err) {
		return nil
	}
	if err != nil {
		return err
	}

	r.invalidate(ctx, inv.Customer)
	return nil
}

func (r *Receiver) apply(ctx context.Context, event *billing.Event, customerID string, state userstore.SubscriptionState) error {
	err := r.store.ApplySubscriptionState(ctx, customerID, state)
	if r.ignorable(ctx, event, customerID, err) {
		return nil
	}
	if err != nil {
		return err
	}

	r.invalidate(ctx, customerID)
	return nil
}

// ignorable reports whether the write outcome is an expected no-op:
// missing users happen under replay and test traffic, stale versions mean
// a newer event already won. Both are logged and the delivery succeeds.
func (r *Receiver) ignorable(ctx context.Context, event *billing.Event, customerID string, err error) bool {
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		r.log.InfoContext(ctx, "no user for billing customer, skipping event",
			logger.CustomerID(customerID), logger.EventType(event.Type), slog.String("event_id", event.ID))
		return true
	case errors.Is(err, userstore.ErrStaleEvent):
		r.log.InfoContext(ctx, "stale billing event superseded by newer state",
			logger.CustomerID(customerID), logger.EventType(event.Type), slog.String("event_id", event.ID))
		return true
	default:
		return false
	}
}

func (r *Receiver) tierFor(ctx context.Context, priceID string) entitlement.Tier {
	tier, known := r.catalog.TierFor(priceID)
	if !known && priceID != "" {
		r.log.WarnContext(ctx, "unrecognized price id, defaulting to free tier",
			slog.String("price_id", priceID))
	}
	return tier
}

func (r *Receiver) invalidate(ctx context.Context, customerID string) {
	if r.cache == nil {
		return
	}
	user, err := r.store.GetByCustomerID(ctx, customerID)
	if err != nil {
		return
	}
	if err := r.cache.Invalidate(ctx, user.ID); err != nil {
		r.log.WarnContext(ctx, "failed to invalidate subscription cache",
			logger.UserID(user.ID), logger.Error(err))
	}
}

func epochToTime(epoch int64) *time.Time {
	if epoch <= 0 {
		return nil
	}
	t := time.Unix(epoch, 0).UTC()
	return &t
}
