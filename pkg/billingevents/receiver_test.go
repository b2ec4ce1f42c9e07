package billingevents_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/membergate/pkg/billing"
	"github.com/dmitrymomot/membergate/pkg/billingevents"
	"github.com/dmitrymomot/membergate/pkg/entitlement"
	"github.com/dmitrymomot/membergate/pkg/plan"
	"github.com/dmitrymomot/membergate/pkg/userstore"
)

type mockBillingClient struct {
	mock.Mock
}

func (m *mockBillingClient) CreateCustomer(ctx context.Context, email, name, userID string) (*billing.Customer, error) {
	args := m.Called(ctx, email, name, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Customer), args.Error(1)
}

func (m *mockBillingClient) GetCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Customer), args.Error(1)
}

func (m *mockBillingClient) CreateCheckoutSession(ctx context.Context, customerID, priceID string) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, customerID, priceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockBillingClient) GetCheckoutSession(ctx context.Context, id string) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockBillingClient) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Subscription), args.Error(1)
}

func (m *mockBillingClient) CreatePortalSession(ctx context.Context, customerID string) (*billing.PortalSession, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.PortalSession), args.Error(1)
}

func (m *mockBillingClient) ParseWebhookEvent(payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Event), args.Error(1)
}

func testCatalog(t *testing.T) plan.Catalog {
	t.Helper()
	catalog, err := plan.NewInMemSource(plan.Plan{
		PriceID:  "price_pro_monthly",
		Name:     "Pro Monthly",
		Tier:     entitlement.TierPro,
		Interval: plan.BillingIntervalMonthly,
		Amount:   900,
		Currency: "USD",
	}).Load(context.Background())
	require.NoError(t, err)
	return catalog
}

func seedUser(t *testing.T, store userstore.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &userstore.User{ID: "user_1", Email: "a@example.com"}))
	require.NoError(t, store.SetBillingCustomer(ctx, "user_1", "cus_123"))
}

func subscriptionEvent(t *testing.T, eventType string, created int64, status, priceID string) *billing.Event {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"id":       "sub_1",
		"customer": "cus_123",
		"status":   status,
		"items": map[string]any{
			"data": []map[string]any{
				{
					"current_period_end": time.Now().Add(30 * 24 * time.Hour).Unix(),
					"price":              map[string]any{"id": priceID},
				},
			},
		},
	})
	require.NoError(t, err)
	return &billing.Event{
		ID:      fmt.Sprintf("evt_%d", created),
		Type:    eventType,
		Created: created,
		Data:    data,
	}
}

func newReceiver(t *testing.T, store userstore.Store, client *mockBillingClient) *billingevents.Receiver {
	t.Helper()
	return billingevents.NewReceiver(store, client, testCatalog(t), nil, slog.New(slog.DiscardHandler))
}

func TestReceiver_SubscriptionUpdated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := userstore.NewMemoryStore()
	seedUser(t, store)

	client := &mockBillingClient{}
	event := subscriptionEvent(t, "customer.subscription.updated", 100, "active", "price_pro_monthly")
	client.On("ParseWebhookEvent", mock.Anything, "sig").Return(event, nil)

	receiver := newReceiver(t, store, client)
	require.NoError(t, receiver.Handle(ctx, []byte("{}"), "sig"))

	u, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierPro, u.SubscriptionTier)
	assert.Equal(t, entitlement.StatusActive, u.SubscriptionStatus)
	assert.Equal(t, "sub_1", u.BillingSubscriptionID)
	assert.Equal(t, "price_pro_monthly", u.BillingPriceID)
	require.NotNil(t, u.CurrentPeriodEnd)
}

func TestReceiver_ReplayIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := userstore.NewMemoryStore()
	seedUser(t, store)

	client := &mockBillingClient{}
	event := subscriptionEvent(t, "customer.subscription.updated", 100, "active", "price_pro_monthly")
	client.On("ParseWebhookEvent", mock.Anything, "sig").Return(event, nil)

	receiver := newReceiver(t, store, client)
	require.NoError(t, receiver.Handle(ctx, []byte("{}"), "sig"))

	before, err := store.Get(ctx, "user_1")
	require.NoError(t, err)

	require.NoError(t, receiver.Handle(ctx, []byte("{}"), "sig"))

	after, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, before.SubscriptionTier, after.SubscriptionTier)
	assert.Equal(t, before.SubscriptionStatus, after.SubscriptionStatus)
	assert.Equal(t, before.SubscriptionVersion, after.SubscriptionVersion)
	assert.Equal(t, before.BillingSubscriptionID, after.BillingSubscriptionID)
}

func TestReceiver_StaleUpdateAfterDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := userstore.NewMemoryStore()
	seedUser(t, store)

	client := &mockBillingClient{}
	deleted := subscriptionEvent(t, "customer.subscription.deleted", 200, "canceled", "price_pro_monthly")
	stale := subscriptionEvent(t, "customer.subscription.updated", 150, "active", "price_pro_monthly")
	client.On("ParseWebhookEvent", []byte("deleted"), "sig").Return(deleted, nil)
	client.On("ParseWebhookEvent", []byte("stale"), "sig").Return(stale, nil)

	receiver := newReceiver(t, store, client)
	require.NoError(t, receiver.Handle(ctx, []byte("deleted"), "sig"))

	// The stale update must be swallowed as a no-op, not resurrect access.
	require.NoError(t, receiver.Handle(ctx, []byte("stale"), "sig"))

	u, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierFree, u.SubscriptionTier)
	assert.Equal(t, entitlement.StatusCanceled, u.SubscriptionStatus)
	assert.Empty(t, u.BillingSubscriptionID)
	assert.Equal(t, "cus_123", u.BillingCustomerID)
}

func TestReceiver_PaymentFailedTouchesStatusOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := userstore.NewMemoryStore()
	seedUser(t, store)

	client := &mockBillingClient{}
	active := subscriptionEvent(t, "customer.subscription.created", 100, "active", "price_pro_monthly")
	client.On("ParseWebhookEvent", []byte("active"), "sig").Return(active, nil)

	failedData, err := json.Marshal(map[string]any{"customer": "cus_123", "subscription": "sub_1"})
	require.NoError(t, err)
	failed := &billing.Event{ID: "evt_fail", Type: "invoice.payment_failed", Created: 150, Data: failedData}
	client.On("ParseWebhookEvent", []byte("failed"), "sig").Return(failed, nil)

	receiver := newReceiver(t, store, client)
	require.NoError(t, receiver.Handle(ctx, []byte("active"), "sig"))
	require.NoError(t, receiver.Handle(ctx, []byte("failed"), "sig"))

	u, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.StatusPastDue, u.SubscriptionStatus)
	assert.Equal(t, entitlement.TierPro, u.SubscriptionTier, "grace period keeps the tier")
	assert.False(t, entitlement.HasAccess(u.Subscription(), entitlement.TierPro))
}

func TestReceiver_PaymentSucceededRefetchesSubscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := userstore.NewMemoryStore()
	seedUser(t, store)

	client := &mockBillingClient{}
	data, err := json.Marshal(map[string]any{"customer": "cus_123", "subscription": "sub_1"})
	require.NoError(t, err)
	event := &billing.Event{ID: "evt_inv", Type: "invoice.payment_succeeded", Created: 300, Data: data}
	client.On("ParseWebhookEvent", mock.Anything, "sig").Return(event, nil)
	client.On("GetSubscription", mock.Anything, "sub_1").Return(&billing.Subscription{
		ID:               "sub_1",
		CustomerID:       "cus_123",
		PriceID:          "price_pro_monthly",
		Status:           "active",
		CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour).Unix(),
	}, nil)

	receiver := newReceiver(t, store, client)
	require.NoError(t, receiver.Handle(ctx, []byte("{}"), "sig"))

	u, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierPro, u.SubscriptionTier)
	assert.Equal(t, entitlement.StatusActive, u.SubscriptionStatus)
	client.AssertExpectations(t)
}

func TestReceiver_UnknownUserIsLoggedNoOp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := userstore.NewMemoryStore() // empty: no user for cus_123

	client := &mockBillingClient{}
	event := subscriptionEvent(t, "customer.subscription.updated", 100, "active", "price_pro_monthly")
	client.On("ParseWebhookEvent", mock.Anything, "sig").Return(event, nil)

	receiver := newReceiver(t, store, client)
	// Must not fail the delivery, otherwise the provider retries forever.
	assert.NoError(t, receiver.Handle(ctx, []byte("{}"), "sig"))
}

func TestReceiver_UnknownEventTypeAccepted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := userstore.NewMemoryStore()
	client := &mockBillingClient{}
	event := &billing.Event{ID: "evt_x", Type: "charge.refunded", Created: 100, Data: []byte(`{}`)}
	client.On("ParseWebhookEvent", mock.Anything, "sig").Return(event, nil)

	receiver := newReceiver(t, store, client)
	assert.NoError(t, receiver.Handle(ctx, []byte("{}"), "sig"))
}

func TestReceiver_BadSignatureRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := userstore.NewMemoryStore()
	client := &mockBillingClient{}
	client.On("ParseWebhookEvent", mock.Anything, "bad").Return(nil, billing.ErrBadSignature)

	receiver := newReceiver(t, store, client)
	err := receiver.Handle(ctx, []byte("{}"), "bad")
	assert.ErrorIs(t, err, billing.ErrBadSignature)
}

func TestReceiver_UnrecognizedPriceMapsToFree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := userstore.NewMemoryStore()
	seedUser(t, store)

	client := &mockBillingClient{}
	event := subscriptionEvent(t, "customer.subscription.updated", 100, "active", "price_forged")
	client.On("ParseWebhookEvent", mock.Anything, "sig").Return(event, nil)

	receiver := newReceiver(t, store, client)
	require.NoError(t, receiver.Handle(ctx, []byte("{}"), "sig"))

	u, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierFree, u.SubscriptionTier, "unknown price must never grant a paid tier")
}
