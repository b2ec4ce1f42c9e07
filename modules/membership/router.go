package membership

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/membergate/pkg/identity"
)

// Router mounts the membership endpoints. User-facing routes pass through
// the authentication middleware; webhook routes bypass it because their
// trust comes from signature verification, not session tokens.
func Router(h *Handler, verifier identity.TokenVerifier, log *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(verifier, log))

		r.Get("/subscription/status", h.SubscriptionStatus)
		r.Post("/checkout", h.StartCheckout)
		r.Get("/checkout/verify", h.VerifyCheckout)
		r.Post("/billing-portal", h.BillingPortal)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/identity", h.IdentityWebhookHandler)
		r.Post("/billing", h.BillingWebhookHandler)
	})

	return r
}
