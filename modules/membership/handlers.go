// Package membership exposes the subscription engine over HTTP: the
// status read path, checkout start and verification, the billing portal,
// and the two webhook receivers.
package membership

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/membergate/pkg/billing"
	"github.com/dmitrymomot/membergate/pkg/billingevents"
	"github.com/dmitrymomot/membergate/pkg/checkout"
	"github.com/dmitrymomot/membergate/pkg/entitlement"
	"github.com/dmitrymomot/membergate/pkg/identityevents"
	"github.com/dmitrymomot/membergate/pkg/logger"
	"github.com/dmitrymomot/membergate/pkg/plan"
	"github.com/dmitrymomot/membergate/pkg/subcache"
	"github.com/dmitrymomot/membergate/pkg/userstore"
)

// CheckoutService is the checkout orchestration surface the handlers
// need. Satisfied by *checkout.Service.
type CheckoutService interface {
	Start(ctx context.Context, userID, priceID string) (*billing.CheckoutSession, error)
	Verify(ctx context.Context, userID, sessionID string) (*userstore.User, error)
	BillingPortal(ctx context.Context, userID, customerID string) (*billing.PortalSession, error)
}

// IdentityWebhook processes identity provider deliveries. Satisfied by
// *identityevents.Receiver.
type IdentityWebhook interface {
	Handle(ctx context.Context, payload []byte, headers http.Header) error
}

// BillingWebhook processes billing provider deliveries. Satisfied by
// *billingevents.Receiver.
type BillingWebhook interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

// StatusCache caches status snapshots per user. Satisfied by
// *subcache.Cache; nil disables caching.
type StatusCache interface {
	Get(ctx context.Context, userID string) (*subcache.Snapshot, error)
	Set(ctx context.Context, userID string, snap subcache.Snapshot) error
}

// Handler carries the dependencies of the HTTP endpoints.
type Handler struct {
	store          userstore.Store
	checkout       CheckoutService
	identityEvents IdentityWebhook
	billingEvents  BillingWebhook
	cache          StatusCache
	log            *slog.Logger
}

// NewHandler creates the endpoint handler set. Panics on nil required
// dependencies to fail fast during initialization.
func NewHandler(store userstore.Store, checkoutSvc CheckoutService, identityEvents IdentityWebhook, billingEvents BillingWebhook, cache StatusCache, log *slog.Logger) *Handler {
	if store == nil {
		panic("membership: userstore.Store is required")
	}
	if checkoutSvc == nil {
		panic("membership: CheckoutService is required")
	}
	if identityEvents == nil {
		panic("membership: IdentityWebhook is required")
	}
	if billingEvents == nil {
		panic("membership: BillingWebhook is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		store:          store,
		checkout:       checkoutSvc,
		identityEvents: identityEvents,
		billingEvents:  billingEvents,
		cache:          cache,
		log:            log,
	}
}

type statusResponse struct {
	Tier                  entitlement.Tier   `json:"tier"`
	Status                entitlement.Status `json:"status"`
	CurrentPeriodEnd      *time.Time         `json:"currentPeriodEnd,omitempty"`
	BillingCustomerID     string             `json:"billingCustomerId,omitempty"`
	BillingSubscriptionID string             `json:"billingSubscriptionId,omitempty"`
}

func anonymousStatus() statusResponse {
	sub := entitlement.Anonymous()
	return statusResponse{Tier: sub.Tier, Status: sub.Status}
}

// SubscriptionStatus serves the read path. Anonymous callers and callers
// whose row does not exist yet get the synthetic free-tier snapshot.
func (h *Handler) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := SubjectFromContext(ctx)
	if subject == "" {
		respondJSON(w, http.StatusOK, anonymousStatus())
		return
	}

	if h.cache != nil {
		if snap, err := h.cache.Get(ctx, subject); err == nil {
			respondJSON(w, http.StatusOK, statusResponse{
				Tier:                  entitlement.NormalizeTier(snap.Tier),
				Status:                snap.Status,
				CurrentPeriodEnd:      snap.CurrentPeriodEnd,
				BillingCustomerID:     snap.BillingCustomerID,
				BillingSubscriptionID: snap.BillingSubscriptionID,
			})
			return
		}
	}

	user, err := h.store.Get(ctx, subject)
	if err != nil {
		if !errors.Is(err, userstore.ErrNotFound) {
			h.log.ErrorContext(ctx, "failed to read user for status",
				logger.UserID(subject), logger.Error(err))
		}
		// No row means free tier, not an error.
		respondJSON(w, http.StatusOK, anonymousStatus())
		return
	}

	sub := user.Subscription()
	snap := subcache.Snapshot{
		Tier:                  sub.Tier,
		Status:                sub.Status,
		CurrentPeriodEnd:      user.CurrentPeriodEnd,
		BillingCustomerID:     user.BillingCustomerID,
		BillingSubscriptionID: user.BillingSubscriptionID,
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, subject, snap); err != nil {
			h.log.WarnContext(ctx, "failed to cache status snapshot",
				logger.UserID(subject), logger.Error(err))
		}
	}

	respondJSON(w, http.StatusOK, statusResponse{
		Tier:                  snap.Tier,
		Status:                snap.Status,
		CurrentPeriodEnd:      snap.CurrentPeriodEnd,
		BillingCustomerID:     snap.BillingCustomerID,
		BillingSubscriptionID: snap.BillingSubscriptionID,
	})
}

type checkoutRequest struct {
	PriceID string `json:"priceId"`
}

type checkoutResponse struct {
	CheckoutSessionID string `json:"checkoutSessionId"`
	URL               string `json:"url,omitempty"`
}

// StartCheckout creates a checkout session for the authenticated caller.
func (h *Handler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := SubjectFromContext(ctx)
	if subject == "" {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PriceID == "" {
		respondError(w, http.StatusBadRequest, "priceId is required")
		return
	}

	session, err := h.checkout.Start(ctx, subject, req.PriceID)
	if err != nil {
		if errors.Is(err, plan.ErrPriceNotRecognized) {
			respondError(w, http.StatusBadRequest, "unrecognized priceId")
			return
		}
		h.log.ErrorContext(ctx, "checkout start failed",
			logger.UserID(subject), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to start checkout")
		return
	}

	respondJSON(w, http.StatusOK, checkoutResponse{
		CheckoutSessionID: session.ID,
		URL:               session.URL,
	})
}

type verifyResponse struct {
	Tier             entitlement.Tier   `json:"tier"`
	Status           entitlement.Status `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"currentPeriodEnd,omitempty"`
}

// VerifyCheckout reconciles a completed checkout session synchronously,
// giving the returning buyer a read-your-write guarantee.
func (h *Handler) VerifyCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := SubjectFromContext(ctx)
	if subject == "" {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	user, err := h.checkout.Verify(ctx, subject, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, checkout.ErrWrongCustomer):
		respondError(w, http.StatusForbidden, "checkout session does not belong to caller")
		return
	case errors.Is(err, checkout.ErrPaymentIncomplete):
		respondError(w, http.StatusBadRequest, "payment not completed")
		return
	case errors.Is(err, billing.ErrSessionNotFound):
		respondError(w, http.StatusBadRequest, "unknown checkout session")
		return
	default:
		h.log.ErrorContext(ctx, "checkout verification failed",
			logger.UserID(subject), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to verify checkout")
		return
	}

	sub := user.Subscription()
	respondJSON(w, http.StatusOK, verifyResponse{
		Tier:             sub.Tier,
		Status:           sub.Status,
		CurrentPeriodEnd: user.CurrentPeriodEnd,
	})
}

type portalRequest struct {
	CustomerID string `json:"customerId"`
}

type portalResponse struct {
	URL string `json:"url"`
}

// BillingPortal creates a billing portal session for the caller.
func (h *Handler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := SubjectFromContext(ctx)
	if subject == "" {
		respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req portalRequest
	if r.Body != nil {
		// An empty body means the customer id is resolved from the store.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	session, err := h.checkout.BillingPortal(ctx, subject, req.CustomerID)
	if err != nil {
		if errors.Is(err, checkout.ErrNoCustomer) {
			respondError(w, http.StatusBadRequest, "no billing customer for caller")
			return
		}
		h.log.ErrorContext(ctx, "billing portal session failed",
			logger.UserID(subject), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "unable to open billing portal")
		return
	}

	respondJSON(w, http.StatusOK, portalResponse{URL: session.URL})
}

// IdentityWebhookHandler receives identity provider deliveries.
func (h *Handler) IdentityWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// Correlates all log lines of one delivery across receiver layers.
	deliveryID := uuid.NewString()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	err = h.identityEvents.Handle(ctx, payload, r.Header)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, identityevents.ErrBadSignature), errors.Is(err, identityevents.ErrBadPayload):
		h.log.WarnContext(ctx, "identity webhook rejected",
			slog.String("delivery_id", deliveryID), logger.Error(err))
		respondError(w, http.StatusBadRequest, "rejected")
	default:
		// 500 asks the provider to redeliver.
		h.log.ErrorContext(ctx, "identity webhook processing failed",
			slog.String("delivery_id", deliveryID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "processing failed")
	}
}

// BillingWebhookHandler receives billing provider deliveries.
func (h *Handler) BillingWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deliveryID := uuid.NewString()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	err = h.billingEvents.Handle(ctx, payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, billing.ErrBadSignature), errors.Is(err, billingevents.ErrBadPayload):
		h.log.WarnContext(ctx, "billing webhook rejected",
			slog.String("delivery_id", deliveryID), logger.Error(err))
		respondError(w, http.StatusBadRequest, "rejected")
	default:
		h.log.ErrorContext(ctx, "billing webhook processing failed",
			slog.String("delivery_id", deliveryID), logger.Error(err))
		respondError(w, http.StatusInternalServerError, "processing failed")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, errorResponse{Error: msg})
}
