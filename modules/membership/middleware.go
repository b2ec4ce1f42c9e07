package membership

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmitrymomot/membergate/pkg/identity"
)

type subjectCtxKey struct{}

// SubjectFromContext returns the authenticated subject id, or empty for
// an anonymous request.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(subjectCtxKey{}).(string)
	return subject
}

// withSubject is a test seam for injecting an authenticated subject.
func withSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectCtxKey{}, subject)
}

// Authenticate resolves the caller's identity from a bearer session
// token. Missing or invalid tokens leave the request anonymous rather
// than rejecting it: the status endpoint serves anonymous visitors, and
// endpoints that need a subject return 401 themselves.
func Authenticate(verifier identity.TokenVerifier, log *slog.Logger) func(http.Handler) http.Handler {
	if verifier == nil {
		panic("membership: identity.TokenVerifier is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := verifier.VerifyToken(r.Context(), token)
			if err != nil {
				log.DebugContext(r.Context(), "session token rejected", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), subject)))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return auth[len(prefix):]
}
