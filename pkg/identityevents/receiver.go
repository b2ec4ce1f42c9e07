package identityevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/dmitrymomot/membergate/pkg/logger"
	"github.com/dmitrymomot/membergate/pkg/userstore"
)

var (
	ErrBadSignature = errors.New("identity webhook signature verification failed")
	ErrBadPayload   = errors.New("identity webhook payload is malformed")
)

// SignatureVerifier validates a webhook delivery against its signature
// headers. Implemented by the svix verifier in production and by fakes in
// tests.
type SignatureVerifier interface {
	Verify(payload []byte, headers http.Header) error
}

type svixVerifier struct {
	wh *svix.Webhook
}

// NewSvixVerifier returns a SignatureVerifier backed by the svix scheme
// the identity provider signs with (svix-id/svix-timestamp/svix-signature
// headers).
func NewSvixVerifier(secret string) (SignatureVerifier, error) {
	if secret == "" {
		return nil, errors.New("identity webhook secret is required")
	}
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to create svix verifier: %w", err)
	}
	return &svixVerifier{wh: wh}, nil
}

func (v *svixVerifier) Verify(payload []byte, headers http.Header) error {
	if err := v.wh.Verify(payload, headers); err != nil {
		return errors.Join(ErrBadSignature, err)
	}
	return nil
}

// Invalidator drops cached subscription state for a user after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type handlerFunc func(ctx context.Context, data json.RawMessage) error

// Receiver processes identity webhooks.
type Receiver struct {
	store    userstore.Store
	verifier SignatureVerifier
	cache    Invalidator
	log      *slog.Logger
	handlers map[string]handlerFunc
}

// NewReceiver creates an identity webhook receiver. Panics on nil
// required dependencies to fail fast during initialization.
func NewReceiver(store userstore.Store, verifier SignatureVerifier, cache Invalidator, log *slog.Logger) *Receiver {
	if store == nil {
		panic("identityevents: userstore.Store is required")
	}
	if verifier == nil {
		panic("identityevents: SignatureVerifier is required")
	}
	if log == nil {
		log = slog.Default()
	}

	r := &Receiver{
		store:    store,
		verifier: verifier,
		cache:    cache,
		log:      log,
	}
	r.handlers = map[string]handlerFunc{
		"user.created": r.handleUserUpsert,
		"user.updated": r.handleUserUpsert,
		"user.deleted": r.handleUserDeleted,
	}
	return r
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handle verifies and dispatches one webhook delivery.
func (r *Receiver) Handle(ctx context.Context, payload []byte, headers http.Header) error {
	if err := r.verifier.Verify(payload, headers); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return errors.Join(ErrBadPayload, err)
	}

	handler, ok := r.handlers[env.Type]
	if !ok {
		r.log.InfoContext(ctx, "ignoring unhandled identity event", logger.EventType(env.Type))
		return nil
	}

	return handler(ctx, env.Data)
}

// userPayload is the subset of the identity provider's user object the
// engine consumes.
type userPayload struct {
	ID                    string `json:"id"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Username              string `json:"username"`
	ImageURL              string `json:"image_url"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
		Verification struct {
			Status string `json:"status"`
		} `json:"verification"`
	} `json:"email_addresses"`
}

// displayName combines available name fields, falling back to the
// username when the profile has no name set.
func (p userPayload) displayName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name != "" {
		return name
	}
	return p.Username
}

// primaryEmail prefers the address marked primary, then the first
// verified one, then the first address of any kind.
func (p userPayload) primaryEmail() string {
	for _, addr := range p.EmailAddresses {
		if p.PrimaryEmailAddressID != "" && addr.ID == p.PrimaryEmailAddressID {
			return addr.EmailAddress
		}
	}
	for _, addr := range p.EmailAddresses {
		if addr.Verification.Status == "verified" {
			return addr.EmailAddress
		}
	}
	if len(p.EmailAddresses) > 0 {
		return p.EmailAddresses[0].EmailAddress
	}
	return ""
}

func (r *Receiver) handleUserUpsert(ctx context.Context, data json.RawMessage) error {
	var user userPayload
	if err := json.Unmarshal(data, &user); err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	if user.ID == "" {
		return errors.Join(ErrBadPayload, errors.New("user event without id"))
	}

	email := user.primaryEmail()
	if email == "" {
		// A user without a resolvable email cannot be linked to billing.
		// Skip rather than fail: the provider would retry forever.
		r.log.WarnContext(ctx, "identity event without resolvable email, skipping",
			logger.UserID(user.ID))
		return nil
	}

	if err := r.store.UpsertProfile(ctx, user.ID, email, user.displayName(), user.ImageURL); err != nil {
		if !errors.Is(err, userstore.ErrAlreadyExists) {
			return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
		}

		// The email already belongs to a row keyed by a previous subject
		// id. Failing the delivery would make the provider redeliver the
		// same conflict forever, so move the row to the current identity.
		if err := r.rekeyByEmail(ctx, user.ID, email); err != nil {
			return err
		}
		if err := r.store.UpsertProfile(ctx, user.ID, email, user.displayName(), user.ImageURL); err != nil {
			return fmt.Errorf("failed to upsert user %s after re-key: %w", user.ID, err)
		}
	}

	r.log.InfoContext(ctx, "identity profile synced", logger.UserID(user.ID))
	return nil
}

// rekeyByEmail moves the row holding email to the given subject id,
// preserving its billing linkage and subscription state.
func (r *Receiver) rekeyByEmail(ctx context.Context, newID, email string) error {
	existing, err := r.store.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to resolve conflicting user by email: %w", err)
	}
	if err := r.store.Rekey(ctx, existing.ID, newID); err != nil {
		return fmt.Errorf("failed to rekey user %s to %s: %w", existing.ID, newID, err)
	}
	r.log.InfoContext(ctx, "re-keyed user row to current identity",
		logger.UserID(newID), slog.String("previous_id", existing.ID))
	return nil
}

func (r *Receiver) handleUserDeleted(ctx context.Context, data json.RawMessage) error {
	var user struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &user); err != nil {
		return errors.Join(ErrBadPayload, err)
	}
	if user.ID == "" {
		return errors.Join(ErrBadPayload, errors.New("user event without id"))
	}

	// Absence is not an error: the event may be a replay.
	if err := r.store.Delete(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", user.ID, err)
	}

	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, user.ID); err != nil {
			r.log.WarnContext(ctx, "failed to invalidate subscription cache",
				logger.UserID(user.ID), logger.Error(err))
		}
	}

	r.log.InfoContext(ctx, "identity profile deleted", logger.UserID(user.ID))
	return nil
}
