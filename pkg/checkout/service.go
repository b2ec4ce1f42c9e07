package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/membergate/pkg/billing"
	"github.com/dmitrymomot/membergate/pkg/identity"
	"github.com/dmitrymomot/membergate/pkg/logger"
	"github.com/dmitrymomot/membergate/pkg/plan"
	"github.com/dmitrymomot/membergate/pkg/userstore"
)

var (
	// ErrCheckoutFailed is the generic caller-facing failure for the
	// orchestration path; details stay in logs.
	ErrCheckoutFailed = errors.New("unable to start checkout")

	// ErrWrongCustomer rejects verification of a session that belongs to
	// another customer. Guessing session ids must not grant entitlement.
	ErrWrongCustomer = errors.New("checkout session belongs to a different customer")

	// ErrPaymentIncomplete rejects verification before payment settled.
	ErrPaymentIncomplete = errors.New("payment not completed")

	// ErrNoCustomer means no billing customer exists for the portal.
	ErrNoCustomer = errors.New("no billing customer for user")
)

// fallbackPeriod is the conservative paid-through window substituted when
// the provider reports no period end.
const fallbackPeriod = 30 * 24 * time.Hour

// Invalidator drops cached subscription state for a user after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// Service orchestrates checkout creation and post-payment verification.
type Service struct {
	store    userstore.Store
	bill     billing.Client
	profiles identity.ProfileResolver
	catalog  plan.Catalog
	cache    Invalidator
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the checkout service. Panics on nil required
// dependencies to fail fast during initialization.
func NewService(store userstore.Store, bill billing.Client, profiles identity.ProfileResolver, catalog plan.Catalog, cache Invalidator, log *slog.Logger, opts ...Option) *Service {
	if store == nil {
		panic("checkout: userstore.Store is required")
	}
	if bill == nil {
		panic("checkout: billing.Client is required")
	}
	if profiles == nil {
		panic("checkout: identity.ProfileResolver is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		store:    store,
		bill:     bill,
		profiles: profiles,
		catalog:  catalog,
		cache:    cache,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the requested price, ensures the user row and billing
// customer exist, and creates a checkout session.
func (s *Service) Start(ctx context.Context, userID, priceID string) (*billing.CheckoutSession, error) {
	// The price id comes from the client; only catalog prices may reach
	// the billing provider.
	if !s.catalog.Contains(priceID) {
		return nil, plan.ErrPriceNotRecognized
	}

	profile, err := s.profiles.Profile(ctx, userID)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to resolve identity profile",
			logger.UserID(userID), logger.Error(err))
		return nil, errors.Join(ErrCheckoutFailed, err)
	}

	user, err := s.ensureUser(ctx, userID, profile)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to ensure user row",
			logger.UserID(userID), logger.Error(err))
		return nil, errors.Join(ErrCheckoutFailed, err)
	}

	customerID, err := s.ensureCustomer(ctx, user, profile)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to ensure billing customer",
			logger.UserID(userID), logger.Error(err))
		return nil, errors.Join(ErrCheckoutFailed, err)
	}

	session, err := s.bill.CreateCheckoutSession(ctx, customerID, priceID)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to create checkout session",
			logger.UserID(userID), logger.CustomerID(customerID), logger.Error(err))
		return nil, errors.Join(ErrCheckoutFailed, err)
	}

	return session, nil
}

// ensureUser resolves the store row for an identity, creating it on
// demand. The identity webhook may not have landed yet, and two checkout
// requests may race: creation conflicts are recovered by re-fetch, and a
// row keyed by a stale subject id is re-keyed via the email lookup.
func (s *Service) ensureUser(ctx context.Context, userID string, profile *identity.Profile) (*userstore.User, error) {
	user, err := s.store.Get(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, userstore.ErrNotFound) {
		return nil, err
	}

	createErr := s.store.Create(ctx, &userstore.User{
		ID:    userID,
		Email: profile.Email,
		Name:  profile.Name,
	})
	if createErr == nil {
		return s.store.Get(ctx, userID)
	}
	if !errors.Is(createErr, userstore.ErrAlreadyExists) {
		return nil, createErr
	}

	// Lost the race or hit the email uniqueness constraint.
	user, err = s.store.Get(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, userstore.ErrNotFound) {
		return nil, err
	}

	// Still no row under this id: the email belongs to a row keyed by a
	// previous subject id. Move it to the current identity.
	existing, err := s.store.GetByEmail(ctx, profile.Email)
	if err != nil {
		return nil, err
	}
	if err := s.store.Rekey(ctx, existing.ID, userID); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "re-keyed user row to current identity",
		logger.UserID(userID), slog.String("previous_id", existing.ID))

	return s.store.Get(ctx, userID)
}

// ensureCustomer resolves a billing customer id, creating one on first
// use and replacing ids the provider no longer recognizes.
func (s *Service) ensureCustomer(ctx context.Context, user *userstore.User, profile *identity.Profile) (string, error) {
	if user.BillingCustomerID == "" {
		return s.createCustomer(ctx, user.ID, profile)
	}

	// A customer can be deleted at the provider out-of-band. Verify it
	// still exists before sending the buyer to checkout.
	if _, err := s.bill.GetCustomer(ctx, user.BillingCustomerID); err != nil {
		if errors.Is(err, billing.ErrCustomerMissing) {
			s.log.WarnContext(ctx, "stored billing customer missing at provider, recreating",
				logger.UserID(user.ID), logger.CustomerID(user.BillingCustomerID))
			return s.createCustomer(ctx, user.ID, profile)
		}
		return "", err
	}

	return user.BillingCustomerID, nil
}

func (s *Service) createCustomer(ctx context.Context, userID string, profile *identity.Profile) (string, error) {
	customer, err := s.bill.CreateCustomer(ctx, profile.Email, profile.Name, userID)
	if err != nil {
		return "", err
	}
	if err := s.store.SetBillingCustomer(ctx, userID, customer.ID); err != nil {
		return "", err
	}
	return customer.ID, nil
}

// Verify re-fetches a completed checkout session and writes the
// reconciled subscription state before returning, so the buyer's next
// read observes their purchase without waiting for the webhook.
func (s *Service) Verify(ctx context.Context, userID, sessionID string) (*userstore.User, error) {
	user, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongCustomer, userID)
	}

	session, err := s.bill.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if user.BillingCustomerID == "" || session.CustomerID != user.BillingCustomerID {
		s.log.WarnContext(ctx, "checkout verification for foreign session rejected",
			logger.UserID(userID), logger.CustomerID(session.CustomerID))
		return nil, ErrWrongCustomer
	}

	if !session.Paid {
		return nil, ErrPaymentIncomplete
	}
	if session.SubscriptionID == "" {
		return nil, ErrPaymentIncomplete
	}

	sub, err := s.bill.GetSubscription(ctx, session.SubscriptionID)
	if err != nil {
		return nil, err
	}

	tier, known := s.catalog.TierFor(sub.PriceID)
	if !known {
		s.log.WarnContext(ctx, "verified subscription has unrecognized price id",
			slog.String("price_id", sub.PriceID), logger.UserID(userID))
	}

	periodEnd := s.periodEnd(ctx, sub)
	state := userstore.SubscriptionState{
		SubscriptionID:   sub.ID,
		PriceID:          sub.PriceID,
		Tier:             tier,
		Status:           billing.MapStatus(sub.Status),
		CurrentPeriodEnd: &periodEnd,
		Version:          s.now().Unix(),
	}

	err = s.store.ApplySubscriptionState(ctx, user.BillingCustomerID, state)
	if err != nil && !errors.Is(err, userstore.ErrStaleEvent) {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, userID); err != nil {
			s.log.WarnContext(ctx, "failed to invalidate subscription cache",
				logger.UserID(userID), logger.Error(err))
		}
	}

	return s.store.Get(ctx, userID)
}

// periodEnd converts the provider's epoch seconds, substituting a
// conservative default when the provider reports none.
func (s *Service) periodEnd(ctx context.Context, sub *billing.Subscription) time.Time {
	if sub.CurrentPeriodEnd > 0 {
		return time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	s.log.WarnContext(ctx, "subscription without period end, substituting default",
		logger.SubscriptionID(sub.ID))
	return s.now().Add(fallbackPeriod).UTC()
}

// BillingPortal creates a customer portal session. When customerID is
// empty it is resolved from the user's store row.
func (s *Service) BillingPortal(ctx context.Context, userID, customerID string) (*billing.PortalSession, error) {
	if customerID == "" {
		user, err := s.store.Get(ctx, userID)
		if errors.Is(err, userstore.ErrNotFound) {
			return nil, errors.Join(ErrNoCustomer, err)
		}
		if err != nil {
			// A store outage is not the caller's fault.
			return nil, err
		}
		customerID = user.BillingCustomerID
	}
	if customerID == "" {
		return nil, ErrNoCustomer
	}

	return s.bill.CreatePortalSession(ctx, customerID)
}
